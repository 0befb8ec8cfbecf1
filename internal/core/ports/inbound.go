package ports

import (
	"context"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the retrieval-augmented answer pipeline.
type QuestionAnswerer interface {
	Ask(ctx context.Context, query domain.Query) (*domain.GeneratedAnswer, error)
}

// DocumentSearcher exposes retrieval without generation.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, query domain.Query) (domain.Retrieval, error)
}

// InformationExtractor is the inbound contract for structured fact extraction.
type InformationExtractor interface {
	Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error)
}

// AuditPersister is the audit worker's inbound contract.
type AuditPersister interface {
	Persist(ctx context.Context, event domain.AuditEvent) error
}
