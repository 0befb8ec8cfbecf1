package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
)

// Client searches an existing Qdrant collection. Points are expected to carry
// the document fields in their payload; indexing happens elsewhere.
type Client struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	exec       *resilience.Executor
	httpClient *http.Client
}

func New(baseURL, collection string, embedder ports.Embedder, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		exec:       exec,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type matchCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

type searchFilter struct {
	Must []matchCondition `json:"must"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *searchFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (c *Client) Search(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("qdrant search: embedder is not configured")
	}
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	request := searchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		Filter:      buildFilter(filter),
	}
	return resilience.Do(ctx, c.exec, "vector.search", func(ctx context.Context) ([]domain.RetrievedDocument, error) {
		return c.search(ctx, request)
	}, resilience.ClassifyHTTPError)
}

func (c *Client) search(ctx context.Context, request searchRequest) ([]domain.RetrievedDocument, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("qdrant", "search", resp)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RetrievedDocument, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "document_id")
		if id == "" {
			id = getStringPayload(r.Payload, "doc_id")
		}
		if id == "" && r.ID != nil {
			id = fmt.Sprintf("%v", r.ID)
		}
		content := getStringPayload(r.Payload, "content")
		if content == "" {
			content = getStringPayload(r.Payload, "text")
		}
		out = append(out, domain.RetrievedDocument{
			ID:           id,
			Content:      content,
			Score:        r.Score,
			Filename:     getStringPayload(r.Payload, "filename"),
			DocumentType: getStringPayload(r.Payload, "document_type"),
			PatientID:    getStringPayload(r.Payload, "patient_id"),
		})
	}
	return out, nil
}

func buildFilter(filter domain.SearchFilter) *searchFilter {
	var must []matchCondition
	if filter.PatientID != "" {
		must = append(must, matchCondition{Key: "patient_id", Match: map[string]any{"value": filter.PatientID}})
	}
	if filter.DocumentType != "" {
		must = append(must, matchCondition{Key: "document_type", Match: map[string]any{"value": filter.DocumentType}})
	}
	if len(must) == 0 {
		return nil
	}
	return &searchFilter{Must: must}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
