package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
	"github.com/kirillkom/clinical-qa/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

// StatsInfo is the static part of GET /v1/qa/stats.
type StatsInfo struct {
	VectorBackend     string `json:"vector_backend"`
	GenerationBackend string `json:"generation_backend"`
	GenerationModel   string `json:"generation_model"`
	DocumentSource    string `json:"document_source"`
	AuditSink         string `json:"audit_sink"`
	FallbackMode      string `json:"fallback_mode"`
	RerankEnabled     bool   `json:"rerank_enabled"`
	RerankTopK        int    `json:"rerank_top_k"`
	MaxContextLength  int    `json:"max_context_length"`
}

type RouterOptions struct {
	ServiceName    string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	Stats          StatsInfo
	Metrics        *metrics.HTTPServerMetrics
	Logger         *slog.Logger
}

type Router struct {
	ask     ports.QuestionAnswerer
	search  ports.DocumentSearcher
	extract ports.InformationExtractor
	opts    RouterOptions
	logger  *slog.Logger
	started time.Time
}

func NewRouter(
	ask ports.QuestionAnswerer,
	search ports.DocumentSearcher,
	extract ports.InformationExtractor,
	opts RouterOptions,
) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "clinical-qa"
	}
	return &Router{
		ask:     ask,
		search:  search,
		extract: extract,
		opts:    opts,
		logger:  logger,
		started: time.Now(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/qa/ask", rt.askQuestion)
	mux.HandleFunc("POST /v1/qa/extract", rt.extractInformation)
	mux.HandleFunc("GET /v1/qa/documents/search", rt.searchDocuments)
	mux.HandleFunc("GET /v1/qa/stats", rt.stats)
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.ServiceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question            string `json:"question"`
	PatientID           string `json:"patient_id"`
	DocumentType        string `json:"document_type"`
	MaxContextDocuments int    `json:"max_context_documents"`
	RequesterID         string `json:"requester_id"`
}

type askResponse struct {
	Answer           string                `json:"answer"`
	Confidence       float64               `json:"confidence"`
	Sources          []domain.SourceRecord `json:"sources"`
	ProcessingTimeMs int64                 `json:"processing_time_ms"`
	QueryID          string                `json:"query_id"`
	Degraded         bool                  `json:"degraded"`
}

func (rt *Router) askQuestion(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		rt.fail(w, r, "ask", err)
		return
	}

	answer, err := rt.ask.Ask(r.Context(), domain.Query{
		Text:                req.Question,
		PatientID:           req.PatientID,
		DocumentType:        req.DocumentType,
		MaxContextDocuments: req.MaxContextDocuments,
		RequesterID:         req.RequesterID,
	})
	if err != nil {
		rt.fail(w, r, "ask", err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordAnswer(rt.opts.ServiceName, len(answer.Sources), answer.Confidence, answer.Degraded, answer.ProcessingTime)
	}

	sources := answer.Sources
	if sources == nil {
		sources = []domain.SourceRecord{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:           answer.Text,
		Confidence:       answer.Confidence,
		Sources:          sources,
		ProcessingTimeMs: answer.ProcessingTime.Milliseconds(),
		QueryID:          answer.QueryID,
		Degraded:         answer.Degraded,
	})
}

type extractRequest struct {
	DocumentID     string `json:"document_id"`
	ExtractionType string `json:"extraction_type"`
	RequesterID    string `json:"requester_id"`
}

func (rt *Router) extractInformation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req extractRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		rt.fail(w, r, "extract", err)
		return
	}
	kind, err := domain.ParseExtractionKind(req.ExtractionType)
	if err != nil {
		rt.fail(w, r, "extract", err)
		return
	}

	result, err := rt.extract.Extract(r.Context(), domain.ExtractionRequest{
		DocumentID:  req.DocumentID,
		Kind:        kind,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		rt.fail(w, r, "extract", err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordExtraction(rt.opts.ServiceName, result.Kind.String(), result.Count, time.Since(start))
	}
	writeJSON(w, http.StatusOK, result)
}

type searchResponse struct {
	Query     string                     `json:"query"`
	Documents []domain.RetrievedDocument `json:"documents"`
	Count     int                        `json:"count"`
	Degraded  bool                       `json:"degraded"`
}

func (rt *Router) searchDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			rt.fail(w, r, "search", domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("limit must be a positive integer")))
			return
		}
		limit = parsed
	}

	retrieval, err := rt.search.SearchDocuments(r.Context(), domain.Query{
		Text:                q.Get("query"),
		PatientID:           q.Get("patient_id"),
		DocumentType:        q.Get("document_type"),
		MaxContextDocuments: limit,
	})
	if err != nil {
		rt.fail(w, r, "search", err)
		return
	}

	docs := retrieval.Documents
	if docs == nil {
		docs = []domain.RetrievedDocument{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:     strings.TrimSpace(q.Get("query")),
		Documents: docs,
		Count:     len(docs),
		Degraded:  retrieval.Degraded,
	})
}

func (rt *Router) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Service       string  `json:"service"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		StatsInfo
	}{
		Service:       rt.opts.ServiceName,
		UptimeSeconds: time.Since(rt.started).Seconds(),
		StatsInfo:     rt.opts.Stats,
	})
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := mapErrorToHTTPStatus(err)
	code := errorCode(err)
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordFailure(rt.opts.ServiceName, endpoint, code)
	}
	if status == statusClientClosedRequest {
		rt.logger.Info("qa_request_canceled",
			"request_id", requestIDFromContext(r.Context()),
			"endpoint", endpoint,
		)
	} else if status >= http.StatusInternalServerError {
		rt.logger.Error("qa_request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"endpoint", endpoint,
			"error", err,
		)
	}
	writeError(w, status, code, publicErrorMessage(err, status))
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
