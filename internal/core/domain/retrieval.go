package domain

import "time"

const (
	SourceIndex    = "index"
	SourceFallback = "fallback"
)

// Query is a single-turn clinical question. It is built once per request.
type Query struct {
	Text                string
	PatientID           string
	DocumentType        string
	MaxContextDocuments int
	RequesterID         string
}

type SearchFilter struct {
	PatientID    string
	DocumentType string
}

// RetrievedDocument is one candidate returned by the vector-search collaborator
// or by a fallback provider.
type RetrievedDocument struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	Filename     string  `json:"filename"`
	DocumentType string  `json:"document_type"`
	PatientID    string  `json:"patient_id"`
	Source       string  `json:"source"`
}

// Retrieval is the outcome of a retriever call. Degraded is set when the
// documents come from the fallback provider instead of the index.
type Retrieval struct {
	Documents []RetrievedDocument `json:"documents"`
	Degraded  bool                `json:"degraded"`
}

// RankedDocument pairs a candidate with its reranker relevance in [0,1].
type RankedDocument struct {
	Document       RetrievedDocument
	RelevanceScore float64
}

// SourceRecord ties a context block back to its document.
type SourceRecord struct {
	Index          int     `json:"index"`
	DocumentID     string  `json:"document_id"`
	Filename       string  `json:"filename"`
	DocumentType   string  `json:"document_type"`
	PatientID      string  `json:"patient_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Excerpt        string  `json:"excerpt"`
}

type ContextBlock struct {
	Index    int
	Document RetrievedDocument
	Excerpt  string
}

// RankedContext is the assembled prompt context. Blocks and Sources are
// parallel and hold only the blocks that fit in the budget.
type RankedContext struct {
	Blocks  []ContextBlock
	Sources []SourceRecord
	Text    string
}

type GeneratedAnswer struct {
	Text           string         `json:"answer"`
	Confidence     float64        `json:"confidence"`
	Sources        []SourceRecord `json:"sources"`
	ProcessingTime time.Duration  `json:"-"`
	QueryID        string         `json:"query_id"`
	Degraded       bool           `json:"degraded"`
}

// GenerationOptions are per-call knobs; decoding parameters live in the
// generation client configuration.
type GenerationOptions struct {
	MaxTokens int
}
