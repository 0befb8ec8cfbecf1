package usecase

import "strings"

type QueryExpander struct {
	entries []SynonymEntry
}

func NewQueryExpander(entries []SynonymEntry) *QueryExpander {
	folded := make([]SynonymEntry, 0, len(entries))
	for _, entry := range entries {
		term := strings.TrimSpace(entry.Term)
		expansion := strings.TrimSpace(entry.Expansion)
		if term == "" || expansion == "" {
			continue
		}
		folded = append(folded, SynonymEntry{Term: foldText(term), Expansion: expansion})
	}
	return &QueryExpander{entries: folded}
}

// Expand appends the synonym cluster of the first table term found in the
// question. Only one cluster is ever appended.
func (e *QueryExpander) Expand(question string) string {
	if e == nil || len(e.entries) == 0 {
		return question
	}
	folded := foldText(question)
	for _, entry := range e.entries {
		if strings.Contains(folded, entry.Term) {
			return question + " " + entry.Expansion
		}
	}
	return question
}
