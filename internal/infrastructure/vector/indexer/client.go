package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
)

// Client talks to the semantic indexer service. It serves both as the vector
// searcher and as the document source for extraction.
type Client struct {
	baseURL    string
	exec       *resilience.Executor
	httpClient *http.Client
}

func New(baseURL string, exec *resilience.Executor, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		exec:       exec,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query        string `json:"query"`
	TopK         int    `json:"topK"`
	PatientID    string `json:"patientId,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
}

func (c *Client) Search(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error) {
	request := searchRequest{
		Query:        query,
		TopK:         limit,
		PatientID:    filter.PatientID,
		DocumentType: filter.DocumentType,
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
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("indexer", "search", resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	records, err := decodeSearchRecords(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedDocument, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDocument())
	}
	return out, nil
}

// GetDocument loads one document for extraction. A 404 maps to
// ErrDocumentNotFound.
func (c *Client) GetDocument(ctx context.Context, id string) (*domain.ClinicalDocument, error) {
	record, err := resilience.Do(ctx, c.exec, "indexer.get_document", func(ctx context.Context) (documentRecord, error) {
		return c.getDocument(ctx, id)
	}, classifyDocumentError)
	if err != nil {
		return nil, err
	}
	doc := record.toDocument()
	if doc.ID == "" {
		doc.ID = id
	}
	return &domain.ClinicalDocument{
		ID:           doc.ID,
		Filename:     doc.Filename,
		Content:      doc.Content,
		DocumentType: doc.DocumentType,
		PatientID:    doc.PatientID,
	}, nil
}

func (c *Client) getDocument(ctx context.Context, id string) (documentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return documentRecord{}, fmt.Errorf("create document request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return documentRecord{}, fmt.Errorf("indexer document request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return documentRecord{}, domain.WrapError(domain.ErrDocumentNotFound, "indexer get document", fmt.Errorf("document %s", id))
	}
	if resp.StatusCode >= 300 {
		return documentRecord{}, resilience.NewHTTPStatusError("indexer", "get document", resp)
	}

	var record documentRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return documentRecord{}, fmt.Errorf("decode document response: %w", err)
	}
	return record, nil
}

func classifyDocumentError(err error) resilience.ErrorClassification {
	if domain.IsKind(err, domain.ErrDocumentNotFound) {
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyHTTPError(err)
}

// documentRecord accepts both snake_case and camelCase field names.
type documentRecord struct {
	ID                string     `json:"id"`
	DocumentIDSnake   flexString `json:"document_id"`
	DocumentIDCamel   flexString `json:"documentId"`
	Content           string     `json:"content"`
	Text              string     `json:"text"`
	Score             *float64   `json:"score"`
	Similarity        *float64   `json:"similarity"`
	Filename          string     `json:"filename"`
	DocumentTypeSnake string     `json:"document_type"`
	DocumentTypeCamel string     `json:"documentType"`
	PatientIDSnake    flexString `json:"patient_id"`
	PatientIDCamel    flexString `json:"patientId"`
	Metadata          recordMeta `json:"metadata"`
}

type recordMeta struct {
	Filename     string     `json:"filename"`
	DocumentType string     `json:"document_type"`
	PatientID    flexString `json:"patient_id"`
}

func (r *documentRecord) UnmarshalJSON(data []byte) error {
	type plain documentRecord
	var aux struct {
		plain
		ID flexString `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = documentRecord(aux.plain)
	r.ID = string(aux.ID)
	return nil
}

func (r documentRecord) toDocument() domain.RetrievedDocument {
	score := 1.0
	switch {
	case r.Score != nil:
		score = *r.Score
	case r.Similarity != nil:
		score = *r.Similarity
	}
	return domain.RetrievedDocument{
		ID:           firstNonEmpty(r.ID, string(r.DocumentIDSnake), string(r.DocumentIDCamel)),
		Content:      firstNonEmpty(r.Content, r.Text),
		Score:        score,
		Filename:     firstNonEmpty(r.Filename, r.Metadata.Filename),
		DocumentType: firstNonEmpty(r.DocumentTypeSnake, r.DocumentTypeCamel, r.Metadata.DocumentType),
		PatientID:    firstNonEmpty(string(r.PatientIDSnake), string(r.PatientIDCamel), string(r.Metadata.PatientID)),
	}
}

// decodeSearchRecords accepts a bare array or an object holding the array
// under "results" or "documents".
func decodeSearchRecords(raw json.RawMessage) ([]documentRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []documentRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode search results: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Results   []documentRecord `json:"results"`
		Documents []documentRecord `json:"documents"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode search envelope: %w", err)
	}
	if envelope.Results != nil {
		return envelope.Results, nil
	}
	return envelope.Documents, nil
}

// flexString decodes JSON strings and numbers into a string.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", trimmed)
	}
	if i, err := n.Int64(); err == nil {
		*s = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*s = flexString(n.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
