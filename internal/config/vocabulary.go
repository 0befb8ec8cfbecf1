package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/clinical-qa/internal/core/usecase"
)

type vocabularyFile struct {
	Synonyms           []usecase.SynonymEntry     `yaml:"synonyms"`
	UncertaintyPhrases []string                   `yaml:"uncertainty_phrases"`
	MedicalTerms       []string                   `yaml:"medical_terms"`
	Confidence         *usecase.ConfidenceWeights `yaml:"confidence"`
}

// LoadVocabulary returns the built-in vocabulary overlaid with the lists and
// weights present in path. Lists replace the defaults; weights are merged key
// by key. An empty path yields the defaults.
func LoadVocabulary(path string) (usecase.Vocabulary, error) {
	vocabulary := usecase.DefaultVocabulary()
	if path == "" {
		return vocabulary, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return vocabulary, fmt.Errorf("read vocabulary file: %w", err)
	}
	return parseVocabulary(raw, vocabulary)
}

func parseVocabulary(raw []byte, base usecase.Vocabulary) (usecase.Vocabulary, error) {
	// yaml fills the keys it finds and leaves the rest of the copy intact.
	weights := base.Weights
	file := vocabularyFile{Confidence: &weights}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return base, fmt.Errorf("decode vocabulary file: %w", err)
	}

	if len(file.Synonyms) > 0 {
		base.Synonyms = file.Synonyms
	}
	if len(file.UncertaintyPhrases) > 0 {
		base.UncertaintyPhrases = file.UncertaintyPhrases
	}
	if len(file.MedicalTerms) > 0 {
		base.MedicalTerms = file.MedicalTerms
	}
	if file.Confidence != nil {
		if file.Confidence.Min > file.Confidence.Max {
			return base, fmt.Errorf("confidence min %.2f exceeds max %.2f", file.Confidence.Min, file.Confidence.Max)
		}
		base.Weights = *file.Confidence
	}
	return base, nil
}
