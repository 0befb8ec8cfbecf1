package usecase

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

const (
	defaultMaxContextLength = 14000
	defaultDocumentWindow   = 1500
	sourceExcerptChars      = 200
	ellipsisMarker          = "..."
	blockSeparator          = "\n\n"
)

// ContextAssembler packs ranked documents into one prompt context. Lengths are
// counted in runes.
type ContextAssembler struct {
	maxLength int
	window    int
}

func NewContextAssembler(maxLength, window int) *ContextAssembler {
	if maxLength <= 0 {
		maxLength = defaultMaxContextLength
	}
	if window <= 0 {
		window = defaultDocumentWindow
	}
	return &ContextAssembler{maxLength: maxLength, window: window}
}

// Assemble walks docs in rank order and stops at the first block that would
// overflow the budget. Blocks are never partially included.
func (a *ContextAssembler) Assemble(docs []domain.RetrievedDocument) domain.RankedContext {
	var (
		builder strings.Builder
		total   int
		out     domain.RankedContext
	)

	for i, doc := range docs {
		index := i + 1
		content := smartTruncate(doc.Content, a.window)
		block := formatContextBlock(index, doc, content)

		added := utf8.RuneCountInString(block)
		if total > 0 {
			added += len(blockSeparator)
		}
		if total+added > a.maxLength {
			break
		}

		if total > 0 {
			builder.WriteString(blockSeparator)
		}
		builder.WriteString(block)
		total += added

		excerpt := strings.TrimSpace(truncateRunes(content, sourceExcerptChars))
		out.Blocks = append(out.Blocks, domain.ContextBlock{Index: index, Document: doc, Excerpt: excerpt})
		out.Sources = append(out.Sources, domain.SourceRecord{
			Index:          index,
			DocumentID:     doc.ID,
			Filename:       displayFilename(doc, index),
			DocumentType:   displayDocumentType(doc),
			PatientID:      displayPatientID(doc),
			RelevanceScore: doc.Score,
			Excerpt:        excerpt,
		})
	}

	out.Text = builder.String()
	return out
}

func formatContextBlock(index int, doc domain.RetrievedDocument, content string) string {
	return fmt.Sprintf("[SOURCE %d]\nFichier: %s\nType: %s\nPatient: %s\n---\n%s\n---",
		index,
		displayFilename(doc, index),
		displayDocumentType(doc),
		displayPatientID(doc),
		content,
	)
}

// smartTruncate cuts text to at most window runes. It prefers the last
// sentence terminator or newline when that lies past half the window;
// otherwise it hard-cuts and appends an ellipsis within the window.
func smartTruncate(text string, window int) string {
	runes := []rune(text)
	if len(runes) <= window {
		return text
	}

	head := runes[:window]
	cut := -1
	for i := len(head) - 1; i >= 0; i-- {
		if isSentenceBoundary(head[i]) {
			cut = i
			break
		}
	}
	if float64(cut) > float64(window)*0.5 {
		return strings.TrimRightFunc(string(head[:cut+1]), unicode.IsSpace)
	}

	keep := window - len(ellipsisMarker)
	if keep < 0 {
		keep = 0
	}
	return string(head[:keep]) + ellipsisMarker
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	default:
		return false
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func displayFilename(doc domain.RetrievedDocument, index int) string {
	if doc.Filename != "" {
		return doc.Filename
	}
	return fmt.Sprintf("Document_%d", index)
}

func displayDocumentType(doc domain.RetrievedDocument) string {
	if doc.DocumentType != "" {
		return doc.DocumentType
	}
	return "medical"
}

func displayPatientID(doc domain.RetrievedDocument) string {
	if doc.PatientID != "" {
		return doc.PatientID
	}
	return "N/A"
}
