package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

const defaultRetrievalLimit = 5

var errNoSearcher = errors.New("vector searcher is not configured")

type Retriever struct {
	searcher  ports.VectorSearcher
	fallback  ports.FallbackProvider
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger
}

type RetrieverOptions struct {
	SimilarityThreshold float64
	Timeout             time.Duration
	Logger              *slog.Logger
}

func NewRetriever(searcher ports.VectorSearcher, fallback ports.FallbackProvider, opts RetrieverOptions) *Retriever {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:  searcher,
		fallback:  fallback,
		threshold: opts.SimilarityThreshold,
		timeout:   opts.Timeout,
		logger:    logger,
	}
}

// Retrieve asks the searcher for twice the limit, then filters by metadata and
// similarity floor. Searcher failures switch to the fallback provider and mark
// the result degraded; only caller cancellation is returned as an error.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	filter domain.SearchFilter,
	limit int,
) (domain.Retrieval, error) {
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}
	candidates := limit * 2

	docs, err := r.search(ctx, query, filter, candidates)
	degraded := false
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Retrieval{}, ctxErr
		}
		r.logger.Warn("rag_retrieval_degraded", "error", err, "candidates", candidates)
		docs = r.fallbackDocuments(query, candidates)
		degraded = true
	}

	out := make([]domain.RetrievedDocument, 0, len(docs))
	for _, doc := range docs {
		if !matchesFilter(doc, filter) {
			continue
		}
		if doc.Score < r.threshold {
			continue
		}
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}

	r.logger.Debug("rag_retrieval_done", "candidates", len(docs), "kept", len(out), "degraded", degraded)
	return domain.Retrieval{Documents: out, Degraded: degraded}, nil
}

func (r *Retriever) search(ctx context.Context, query string, filter domain.SearchFilter, candidates int) ([]domain.RetrievedDocument, error) {
	if r.searcher == nil {
		return nil, domain.WrapError(domain.ErrTemporary, "vector search", errNoSearcher)
	}
	searchCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	docs, err := r.searcher.Search(searchCtx, query, filter, candidates)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Source == "" {
			docs[i].Source = domain.SourceIndex
		}
	}
	return docs, nil
}

func (r *Retriever) fallbackDocuments(query string, candidates int) []domain.RetrievedDocument {
	if r.fallback == nil {
		return nil
	}
	docs := r.fallback.FallbackDocuments(query, candidates)
	out := make([]domain.RetrievedDocument, len(docs))
	for i, doc := range docs {
		doc.Source = domain.SourceFallback
		out[i] = doc
	}
	return out
}

func matchesFilter(doc domain.RetrievedDocument, filter domain.SearchFilter) bool {
	if filter.PatientID != "" && doc.PatientID != filter.PatientID {
		return false
	}
	if filter.DocumentType != "" && doc.DocumentType != filter.DocumentType {
		return false
	}
	return true
}
