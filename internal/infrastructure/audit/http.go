package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
)

// HTTPSink posts events to the audit service.
type HTTPSink struct {
	baseURL    string
	exec       *resilience.Executor
	httpClient *http.Client
}

func NewHTTPSink(baseURL string, exec *resilience.Executor, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		exec:       exec,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Log(ctx context.Context, event domain.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.exec.Execute(ctx, "audit.http", func(ctx context.Context) error {
		return s.post(ctx, body)
	}, resilience.ClassifyHTTPError)
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/audit/log", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("audit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("audit", "log", resp)
	}
	return nil
}
