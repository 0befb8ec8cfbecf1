package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SynonymEntry maps a domain term to the cluster appended on expansion.
type SynonymEntry struct {
	Term      string `yaml:"term"`
	Expansion string `yaml:"expansion"`
}

// Vocabulary holds the tunable word lists and weights used by the expander
// and the confidence estimator.
type Vocabulary struct {
	Synonyms           []SynonymEntry
	UncertaintyPhrases []string
	MedicalTerms       []string
	Weights            ConfidenceWeights
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Synonyms: []SynonymEntry{
			{Term: "diabete", Expansion: "diabete glucose glycemie insuline"},
			{Term: "hypertension", Expansion: "hypertension tension arterielle HTA"},
			{Term: "cancer", Expansion: "cancer tumeur maligne oncologie"},
			{Term: "coeur", Expansion: "coeur cardiaque cardiovasculaire"},
			{Term: "poumon", Expansion: "poumon pulmonaire respiratoire"},
			{Term: "foie", Expansion: "foie hepatique"},
			{Term: "rein", Expansion: "rein renal nephro"},
			{Term: "traitement", Expansion: "traitement medicament therapie prescription"},
			{Term: "douleur", Expansion: "douleur algique antalgique"},
			{Term: "fievre", Expansion: "fievre temperature hyperthermie"},
		},
		UncertaintyPhrases: []string{
			"je ne sais pas",
			"pas dans les documents",
			"aucune information",
			"impossible de determiner",
			"non mentionne",
			"pas disponible",
			"i don't know",
			"not in the documents",
			"no information available",
			"not mentioned",
			"cannot determine",
		},
		MedicalTerms: []string{
			"diagnostic",
			"traitement",
			"patient",
			"symptome",
			"pathologie",
			"medicament",
			"examen",
			"antecedent",
		},
		Weights: DefaultConfidenceWeights(),
	}
}

// foldText lowercases s and strips combining marks so "Diabète" matches "diabete".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, foldText(v))
	}
	return out
}
