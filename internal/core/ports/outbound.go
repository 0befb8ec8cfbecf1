package ports

import (
	"context"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// VectorSearcher is the vector-search collaborator. Implementations may push
// the filter down but callers must not rely on it.
type VectorSearcher interface {
	Search(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error)
}

// FallbackProvider supplies documents when the vector searcher is unreachable.
type FallbackProvider interface {
	FallbackDocuments(query string, limit int) []domain.RetrievedDocument
}

// TextGenerator is the generation collaborator.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error)
}

// Embedder builds query vectors for vector backends that need them.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DocumentSource loads a full document for extraction.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*domain.ClinicalDocument, error)
}

// AuditSink delivers one audit event. It may block and may fail.
type AuditSink interface {
	Log(ctx context.Context, event domain.AuditEvent) error
}

// AuditRecorder accepts audit events without blocking the caller.
type AuditRecorder interface {
	Record(event domain.AuditEvent)
}

// AuditStore persists audit events on the worker side. Insert reports false
// for an event id that is already stored.
type AuditStore interface {
	Insert(ctx context.Context, event domain.AuditEvent) (bool, error)
}
