// Package fallback holds the document providers used when the vector index
// cannot be reached.
package fallback

import (
	"sort"
	"strings"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// None never supplies documents. Retrieval outages then surface as
// "no relevant documents".
type None struct{}

func (None) FallbackDocuments(string, int) []domain.RetrievedDocument {
	return nil
}

// Static returns a fixed document set, best lexical overlap first.
type Static struct {
	docs []domain.RetrievedDocument
}

func NewStatic(docs []domain.RetrievedDocument) *Static {
	cloned := make([]domain.RetrievedDocument, len(docs))
	copy(cloned, docs)
	return &Static{docs: cloned}
}

func (s *Static) FallbackDocuments(query string, limit int) []domain.RetrievedDocument {
	if s == nil || len(s.docs) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(s.docs) {
		limit = len(s.docs)
	}

	terms := queryTerms(query)
	type scored struct {
		doc     domain.RetrievedDocument
		overlap int
	}
	ranked := make([]scored, len(s.docs))
	for i, doc := range s.docs {
		ranked[i] = scored{doc: doc, overlap: overlap(terms, doc.Content)}
	}
	// equal overlaps keep declaration order
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].overlap > ranked[j].overlap
	})

	out := make([]domain.RetrievedDocument, 0, limit)
	for _, item := range ranked[:limit] {
		item.doc.Source = domain.SourceFallback
		out = append(out, item.doc)
	}
	return out
}

// Demo is a Static provider over three illustrative records for patient P001.
// It is meant for local runs without an index and must stay out of
// production configurations.
func Demo() *Static {
	return NewStatic(demoDocuments)
}

var demoDocuments = []domain.RetrievedDocument{
	{
		ID:           "demo-consultation-001",
		Filename:     "consultation_cardiologie_P001.txt",
		DocumentType: "consultation",
		PatientID:    "P001",
		Score:        0.6,
		Content: "Consultation de cardiologie. Patient de 62 ans suivi pour hypertension arterielle " +
			"depuis 2015 et diabete de type 2. Se plaint d'une dyspnee d'effort stade II. " +
			"Tension arterielle 152/94 mmHg. Auscultation sans souffle. Conclusion: HTA insuffisamment " +
			"controlee, majoration du traitement antihypertenseur.",
	},
	{
		ID:           "demo-biologie-001",
		Filename:     "bilan_biologique_P001.txt",
		DocumentType: "biologie",
		PatientID:    "P001",
		Score:        0.55,
		Content: "Bilan biologique. Glycemie a jeun 1,42 g/L. HbA1c 7,8 %. Creatinine 98 umol/L, " +
			"DFG estime 71 mL/min. Cholesterol LDL 1,35 g/L. Kaliemie 4,2 mmol/L. " +
			"Pas d'anomalie de la numeration formule sanguine.",
	},
	{
		ID:           "demo-ordonnance-001",
		Filename:     "ordonnance_P001.txt",
		DocumentType: "ordonnance",
		PatientID:    "P001",
		Score:        0.5,
		Content: "Ordonnance. Ramipril 10 mg, 1 comprime le matin. Amlodipine 5 mg, 1 comprime le soir. " +
			"Metformine 1000 mg, 1 comprime matin et soir. Atorvastatine 20 mg, 1 comprime le soir. " +
			"Allergie connue a la penicilline.",
	},
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	out := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) >= 3 {
			out = append(out, field)
		}
	}
	return out
}

func overlap(terms []string, content string) int {
	lowered := strings.ToLower(content)
	n := 0
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			n++
		}
	}
	return n
}
