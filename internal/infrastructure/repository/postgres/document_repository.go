package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// DocumentRepository reads clinical documents written by the indexing
// pipeline. The optional embedding column belongs to the pgvector backend.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, r.db, documentSchemaLock, `
CREATE TABLE IF NOT EXISTS clinical_documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	content TEXT NOT NULL,
	document_type TEXT,
	patient_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clinical_documents_patient ON clinical_documents(patient_id);
CREATE INDEX IF NOT EXISTS idx_clinical_documents_type ON clinical_documents(document_type);
`)
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*domain.ClinicalDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, content, document_type, patient_id
FROM clinical_documents
WHERE id = $1
`, id)

	var (
		doc          domain.ClinicalDocument
		documentType sql.NullString
		patientID    sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.Content, &documentType, &patientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan clinical document: %w", err)
	}
	doc.DocumentType = documentType.String
	doc.PatientID = patientID.String
	return &doc, nil
}
