package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

type PersistAuditUseCase struct {
	store  ports.AuditStore
	logger *slog.Logger
}

func NewPersistAuditUseCase(store ports.AuditStore, logger *slog.Logger) *PersistAuditUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistAuditUseCase{store: store, logger: logger}
}

// Persist stores one consumed event. Events missing their identity fields
// are rejected with ErrInvalidInput; duplicates are skipped silently.
func (uc *PersistAuditUseCase) Persist(ctx context.Context, event domain.AuditEvent) error {
	if err := validateAuditEvent(event); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "persist audit event", err)
	}
	if strings.TrimSpace(event.RequesterID) == "" {
		event.RequesterID = "anonymous"
	}

	inserted, err := uc.store.Insert(ctx, event)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "persist audit event", err)
	}
	if !inserted {
		uc.logger.Debug("audit_event_duplicate", "event_id", event.ID)
	}
	return nil
}

func validateAuditEvent(event domain.AuditEvent) error {
	switch {
	case strings.TrimSpace(event.ID) == "":
		return fmt.Errorf("event id is required")
	case event.Action != domain.AuditActionQuery && event.Action != domain.AuditActionExtraction:
		return fmt.Errorf("unsupported action %q", event.Action)
	case strings.TrimSpace(event.ResourceType) == "":
		return fmt.Errorf("resource type is required")
	case event.Timestamp.IsZero():
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
