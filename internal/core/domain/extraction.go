package domain

import (
	"fmt"
	"strings"
)

type ExtractionKind int

const (
	ExtractionPathologies ExtractionKind = iota + 1
	ExtractionTreatments
	ExtractionHistory
)

var extractionKindNames = map[ExtractionKind]string{
	ExtractionPathologies: "pathologies",
	ExtractionTreatments:  "treatments",
	ExtractionHistory:     "history",
}

var extractionKindAliases = map[string]ExtractionKind{
	"pathologies": ExtractionPathologies,
	"treatments":  ExtractionTreatments,
	"traitements": ExtractionTreatments,
	"history":     ExtractionHistory,
	"antecedents": ExtractionHistory,
	"antécédents": ExtractionHistory,
}

func (k ExtractionKind) String() string {
	if name, ok := extractionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ExtractionKind(%d)", int(k))
}

func (k ExtractionKind) Valid() bool {
	_, ok := extractionKindNames[k]
	return ok
}

func (k ExtractionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown extraction kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *ExtractionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseExtractionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseExtractionKind accepts the canonical names and the French aliases used
// by the clinical front end.
func ParseExtractionKind(raw string) (ExtractionKind, error) {
	kind, ok := extractionKindAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, WrapError(ErrInvalidInput, "parse extraction kind", fmt.Errorf("unsupported extraction type %q", raw))
	}
	return kind, nil
}

type ExtractionRequest struct {
	DocumentID  string
	Kind        ExtractionKind
	RequesterID string
}

// ExtractionResult always satisfies Count == len(Items).
type ExtractionResult struct {
	DocumentID string            `json:"document_id"`
	Kind       ExtractionKind    `json:"extraction_type"`
	Items      []string          `json:"items"`
	Details    map[string]string `json:"details"`
	Count      int               `json:"count"`
}

// ClinicalDocument is the full stored document used as extraction input.
type ClinicalDocument struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	Content      string `json:"content"`
	DocumentType string `json:"document_type"`
	PatientID    string `json:"patient_id"`
}
