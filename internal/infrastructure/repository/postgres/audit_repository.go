package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// AuditRepository persists audit events consumed by the audit worker.
// Inserts are idempotent on the event id so redelivered messages are harmless.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, r.db, auditSchemaLock, `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT,
	query_text TEXT,
	response_summary TEXT,
	documents_accessed JSONB NOT NULL DEFAULT '[]'::jsonb,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	service TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action, created_at DESC);
`)
}

// Insert reports whether a new row was written.
func (r *AuditRepository) Insert(ctx context.Context, event domain.AuditEvent) (bool, error) {
	accessed := event.DocumentsAccessed
	if accessed == nil {
		accessed = []string{}
	}
	accessedJSON, err := json.Marshal(accessed)
	if err != nil {
		return false, fmt.Errorf("marshal documents accessed: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (
	id, user_id, action, resource_type, resource_id, query_text, response_summary,
	documents_accessed, processing_time_ms, service, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING
`,
		event.ID, event.RequesterID, string(event.Action), event.ResourceType,
		nullIfEmpty(event.ResourceID), nullIfEmpty(event.QueryText), nullIfEmpty(event.ResponseSummary),
		accessedJSON, event.ProcessingTimeMs, event.Service, event.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert audit event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit insert rows affected: %w", err)
	}
	return affected == 1, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
