package usecase

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// ConfidenceWeights are heuristic constants. They are not calibrated against
// outcome data.
type ConfidenceWeights struct {
	Base                 float64 `yaml:"base"`
	CitationStep         float64 `yaml:"citation_step"`
	CitationCap          float64 `yaml:"citation_cap"`
	LongAnswerChars      int     `yaml:"long_answer_chars"`
	LongAnswerBonus      float64 `yaml:"long_answer_bonus"`
	VeryLongAnswerChars  int     `yaml:"very_long_answer_chars"`
	VeryLongAnswerBonus  float64 `yaml:"very_long_answer_bonus"`
	SourceCountThreshold int     `yaml:"source_count_threshold"`
	SourceCountBonus     float64 `yaml:"source_count_bonus"`
	UncertaintyPenalty   float64 `yaml:"uncertainty_penalty"`
	TermStep             float64 `yaml:"term_step"`
	TermCap              float64 `yaml:"term_cap"`
	Min                  float64 `yaml:"min"`
	Max                  float64 `yaml:"max"`
}

func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		Base:                 0.5,
		CitationStep:         0.1,
		CitationCap:          0.2,
		LongAnswerChars:      200,
		LongAnswerBonus:      0.1,
		VeryLongAnswerChars:  500,
		VeryLongAnswerBonus:  0.1,
		SourceCountThreshold: 3,
		SourceCountBonus:     0.1,
		UncertaintyPenalty:   0.15,
		TermStep:             0.02,
		TermCap:              0.1,
		Min:                  0.1,
		Max:                  0.95,
	}
}

type ConfidenceEstimator struct {
	weights            ConfidenceWeights
	uncertaintyPhrases []string
	medicalTerms       []string
}

func NewConfidenceEstimator(vocabulary Vocabulary) *ConfidenceEstimator {
	weights := vocabulary.Weights
	if weights.Max <= 0 || weights.Min > weights.Max {
		weights = DefaultConfidenceWeights()
	}
	return &ConfidenceEstimator{
		weights:            weights,
		uncertaintyPhrases: foldAll(vocabulary.UncertaintyPhrases),
		medicalTerms:       foldAll(vocabulary.MedicalTerms),
	}
}

// Estimate scores an answer from surface signals only. The result is clamped
// to [Min, Max] and rounded to two decimals.
func (e *ConfidenceEstimator) Estimate(answer string, sources []domain.SourceRecord, question string) float64 {
	w := e.weights
	folded := foldText(answer)
	length := utf8.RuneCountInString(answer)

	confidence := w.Base

	if citations := strings.Count(folded, "[source"); citations > 0 {
		confidence += math.Min(w.CitationCap, w.CitationStep*float64(citations))
	}

	if length > w.LongAnswerChars {
		confidence += w.LongAnswerBonus
	}
	if length > w.VeryLongAnswerChars {
		confidence += w.VeryLongAnswerBonus
	}

	if len(sources) >= w.SourceCountThreshold {
		confidence += w.SourceCountBonus
	}

	for _, phrase := range e.uncertaintyPhrases {
		if strings.Contains(folded, phrase) {
			confidence -= w.UncertaintyPenalty
			break
		}
	}

	terms := 0
	for _, term := range e.medicalTerms {
		if strings.Contains(folded, term) {
			terms++
		}
	}
	confidence += math.Min(w.TermCap, w.TermStep*float64(terms))

	confidence = math.Max(w.Min, math.Min(w.Max, confidence))
	return math.Round(confidence*100) / 100
}
