package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

const (
	neutralRelevanceScore = 0.5
	rerankExcerptChars    = 500
	rerankMaxTokens       = 10
)

var relevanceNumberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Reranker scores candidates with the generation collaborator acting as a
// relevance judge and keeps the best topK.
type Reranker struct {
	generator   ports.TextGenerator
	prompts     PromptBuilder
	topK        int
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

type RerankerOptions struct {
	TopK        int
	Concurrency int
	// Timeout bounds the whole scoring batch. Candidates not scored in time
	// get the neutral score.
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewReranker(generator ports.TextGenerator, prompts PromptBuilder, opts RerankerOptions) *Reranker {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		generator:   generator,
		prompts:     prompts,
		topK:        topK,
		concurrency: concurrency,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// Needed reports whether a candidate set of size n is large enough to rerank.
func (r *Reranker) Needed(n int) bool {
	return r != nil && n > r.topK
}

func (r *Reranker) TopK() int {
	return r.topK
}

// Rerank scores every candidate, sorts them by descending score and keeps topK.
// Equal scores keep retrieval order. Individual scoring failures get the
// neutral score; the call only fails when ctx is done.
func (r *Reranker) Rerank(ctx context.Context, question string, docs []domain.RetrievedDocument) ([]domain.RankedDocument, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	scoreCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ranked := make([]domain.RankedDocument, len(docs))
	g, gctx := errgroup.WithContext(scoreCtx)
	g.SetLimit(r.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			ranked[i] = domain.RankedDocument{
				Document:       doc,
				RelevanceScore: r.score(gctx, question, doc),
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	return ranked, nil
}

func (r *Reranker) score(ctx context.Context, question string, doc domain.RetrievedDocument) float64 {
	prompt := r.prompts.Relevance(question, truncateRunes(doc.Content, rerankExcerptChars))
	raw, err := r.generator.Generate(ctx, prompt, domain.GenerationOptions{MaxTokens: rerankMaxTokens})
	if err != nil {
		r.logger.Warn("rerank_score_failed", "document_id", doc.ID, "error", err)
		return neutralRelevanceScore
	}
	score, ok := parseRelevanceScore(raw)
	if !ok {
		r.logger.Warn("rerank_score_parse_failed", "document_id", doc.ID, "response", truncateRunes(raw, 80))
		return neutralRelevanceScore
	}
	return score
}

// parseRelevanceScore reads the first number of a 0-10 judgement and maps it to [0,1].
func parseRelevanceScore(raw string) (float64, bool) {
	match := relevanceNumberPattern.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	score := value / 10.0
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, true
}

// rankedDocuments replaces each retrieval score with the reranker's
// judgement, so cited sources report the score that ordered them.
func rankedDocuments(ranked []domain.RankedDocument) []domain.RetrievedDocument {
	out := make([]domain.RetrievedDocument, len(ranked))
	for i, item := range ranked {
		out[i] = item.Document
		out[i].Score = item.RelevanceScore
	}
	return out
}
