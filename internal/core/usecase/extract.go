package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

const extractionMaxTokens = 800

type ExtractUseCase struct {
	documents   ports.DocumentSource
	generator   ports.TextGenerator
	prompts     PromptBuilder
	audit       ports.AuditRecorder
	serviceName string
	logger      *slog.Logger
	now         func() time.Time
}

func NewExtractUseCase(
	documents ports.DocumentSource,
	generator ports.TextGenerator,
	audit ports.AuditRecorder,
	serviceName string,
	logger *slog.Logger,
) *ExtractUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractUseCase{
		documents:   documents,
		generator:   generator,
		audit:       audit,
		serviceName: serviceName,
		logger:      logger,
		now:         time.Now,
	}
}

func (uc *ExtractUseCase) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract", fmt.Errorf("document id is required"))
	}
	if !req.Kind.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract", fmt.Errorf("unsupported extraction type %d", int(req.Kind)))
	}
	if uc.documents == nil {
		return nil, fmt.Errorf("extract: document source is not configured")
	}

	doc, err := uc.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := uc.generator.Generate(ctx, uc.prompts.Extraction(doc.Content, req.Kind), domain.GenerationOptions{
		MaxTokens: extractionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate extraction: %w", err)
	}

	items, details, parsedJSON := parseExtraction(raw)
	if !parsedJSON {
		uc.logger.Warn("extraction_json_fallback", "document_id", documentID, "extraction_type", req.Kind.String())
	}

	result := &domain.ExtractionResult{
		DocumentID: documentID,
		Kind:       req.Kind,
		Items:      items,
		Details:    details,
		Count:      len(items),
	}

	if uc.audit != nil {
		uc.audit.Record(domain.AuditEvent{
			ID:           uuid.NewString(),
			RequesterID:  requesterOrAnonymous(req.RequesterID),
			Action:       domain.AuditActionExtraction,
			ResourceType: strings.ToUpper(req.Kind.String()),
			ResourceID:   documentID,
			Service:      uc.serviceName,
			Timestamp:    uc.now().UTC(),
		})
	}
	return result, nil
}

type extractionPayload struct {
	Items   []any          `json:"items"`
	Details map[string]any `json:"details"`
}

// parseExtraction reads the JSON object the model was asked for. When that
// fails it keeps only bullet lines as items and leaves details empty.
func parseExtraction(raw string) ([]string, map[string]string, bool) {
	if items, details, ok := parseExtractionJSON(raw); ok {
		return items, details, true
	}
	return parseExtractionBullets(raw), map[string]string{}, false
}

func parseExtractionJSON(raw string) ([]string, map[string]string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, nil, false
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, nil, false
	}

	items := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, stringifyExtractionValue(item))
	}
	details := make(map[string]string, len(payload.Details))
	for key, value := range payload.Details {
		details[key] = stringifyExtractionValue(value)
	}
	return items, details, true
}

func parseExtractionBullets(raw string) []string {
	items := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "*") {
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(line, "-•* "))
		if item == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

func stringifyExtractionValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func requesterOrAnonymous(id string) string {
	if strings.TrimSpace(id) == "" {
		return "anonymous"
	}
	return id
}
