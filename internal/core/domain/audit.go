package domain

import "time"

type AuditAction string

const (
	AuditActionQuery      AuditAction = "QUERY"
	AuditActionExtraction AuditAction = "EXTRACTION"
)

// AuditEvent is write-only from the pipeline's point of view.
type AuditEvent struct {
	ID                string      `json:"id"`
	RequesterID       string      `json:"user_id"`
	Action            AuditAction `json:"action"`
	ResourceType      string      `json:"resource_type"`
	ResourceID        string      `json:"resource_id,omitempty"`
	QueryText         string      `json:"query_text,omitempty"`
	ResponseSummary   string      `json:"response_summary,omitempty"`
	DocumentsAccessed []string    `json:"documents_accessed,omitempty"`
	ProcessingTimeMs  int64       `json:"processing_time_ms"`
	Service           string      `json:"service"`
	Timestamp         time.Time   `json:"timestamp"`
}
