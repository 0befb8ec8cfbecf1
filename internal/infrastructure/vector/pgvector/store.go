package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
)

const searchQuery = `
SELECT
    id,
    filename,
    content,
    document_type,
    patient_id,
    (embedding <-> $1::vector) AS distance
FROM clinical_documents
WHERE embedding IS NOT NULL
  AND ($2 = '' OR patient_id = $2)
  AND ($3 = '' OR document_type = $3)
ORDER BY embedding <-> $1::vector
LIMIT $4
`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store searches clinical_documents.embedding. Rows are written by the
// indexing pipeline; this store only reads.
type Store struct {
	db       querier
	embedder ports.Embedder
	exec     *resilience.Executor
}

func New(pool *pgxpool.Pool, embedder ports.Embedder, exec *resilience.Executor) *Store {
	return &Store{db: pool, embedder: embedder, exec: exec}
}

func (s *Store) Search(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pgvector search: pool is nil")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("pgvector search: embedder is not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("pgvector search: embedding is empty")
	}

	return resilience.Do(ctx, s.exec, "vector.search", func(ctx context.Context) ([]domain.RetrievedDocument, error) {
		return s.search(ctx, embedding, filter, limit)
	}, nil)
}

func (s *Store) search(ctx context.Context, embedding []float32, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error) {
	rows, err := s.db.Query(ctx, searchQuery, pgv.NewVector(embedding), filter.PatientID, filter.DocumentType, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RetrievedDocument, 0, limit)
	for rows.Next() {
		var (
			doc          domain.RetrievedDocument
			documentType *string
			patientID    *string
			distance     float64
		)
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Content, &documentType, &patientID, &distance); err != nil {
			return nil, fmt.Errorf("scan similar document: %w", err)
		}
		if documentType != nil {
			doc.DocumentType = *documentType
		}
		if patientID != nil {
			doc.PatientID = *patientID
		}
		doc.Score = 1 / (1 + distance)
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar documents: %w", err)
	}
	return out, nil
}
