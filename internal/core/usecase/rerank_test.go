package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func rerankFixture(n int) []domain.RetrievedDocument {
	docs := make([]domain.RetrievedDocument, n)
	for i := range docs {
		docs[i] = domain.RetrievedDocument{ID: fmt.Sprintf("doc-%02d", i), Content: fmt.Sprintf("document %02d", i), Score: 0.5}
	}
	return docs
}

func TestRerankKeepsTopKWithScoresInRange(t *testing.T) {
	generator := &generatorFake{relevance: func(prompt string) (string, error) {
		for i := 0; i < 12; i++ {
			if strings.Contains(prompt, fmt.Sprintf("document %02d", i)) {
				return fmt.Sprintf("%.1f", float64(i)*0.8), nil
			}
		}
		return "0", nil
	}}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 5, Concurrency: 4, Logger: discardLogger()})

	ranked, err := reranker.Rerank(context.Background(), "q", rerankFixture(12))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 5 {
		t.Fatalf("expected 5 ranked documents, got %d", len(ranked))
	}
	for i, item := range ranked {
		if item.RelevanceScore < 0 || item.RelevanceScore > 1 {
			t.Fatalf("score out of range: %v", item.RelevanceScore)
		}
		if i > 0 && item.RelevanceScore > ranked[i-1].RelevanceScore {
			t.Fatalf("expected descending scores")
		}
	}
	if ranked[0].Document.ID != "doc-11" {
		t.Fatalf("expected doc-11 first, got %s", ranked[0].Document.ID)
	}
	if generator.calls() != 12 {
		t.Fatalf("expected one judgement per candidate, got %d", generator.calls())
	}
}

func TestRerankClampedMaximumsKeepRetrievalOrder(t *testing.T) {
	generator := &generatorFake{relevance: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "document 02"):
			return "12", nil
		case strings.Contains(prompt, "document 04"):
			return "10", nil
		default:
			return "2", nil
		}
	}}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 3, Concurrency: 4, Logger: discardLogger()})

	ranked, err := reranker.Rerank(context.Background(), "q", rerankFixture(6))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if ranked[0].Document.ID != "doc-02" || ranked[1].Document.ID != "doc-04" {
		t.Fatalf("expected doc-02 then doc-04, got %s then %s", ranked[0].Document.ID, ranked[1].Document.ID)
	}
	if ranked[0].RelevanceScore != 1 || ranked[1].RelevanceScore != 1 {
		t.Fatalf("expected both judgements clamped to 1, got %v and %v", ranked[0].RelevanceScore, ranked[1].RelevanceScore)
	}
}

func TestRerankFailuresGetNeutralScoreAndKeepOrder(t *testing.T) {
	generator := &generatorFake{relevance: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "document 00"):
			return "", errors.New("timeout")
		case strings.Contains(prompt, "document 01"):
			return "pas de score", nil
		case strings.Contains(prompt, "document 02"):
			return "Score: 5", nil
		default:
			return "1", nil
		}
	}}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 3, Logger: discardLogger()})

	ranked, err := reranker.Rerank(context.Background(), "q", rerankFixture(5))
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	got := []string{ranked[0].Document.ID, ranked[1].Document.ID, ranked[2].Document.ID}
	want := []string{"doc-00", "doc-01", "doc-02"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected stable order %v, got %v", want, got)
		}
		if ranked[i].RelevanceScore != neutralRelevanceScore {
			t.Fatalf("expected neutral score for %s, got %v", got[i], ranked[i].RelevanceScore)
		}
	}
}

func TestRerankCanceledContext(t *testing.T) {
	generator := &generatorFake{relevance: func(string) (string, error) { return "7", nil }}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 2, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reranker.Rerank(ctx, "q", rerankFixture(4)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRerankerNeeded(t *testing.T) {
	reranker := NewReranker(&generatorFake{}, PromptBuilder{}, RerankerOptions{TopK: 5})
	if reranker.Needed(5) {
		t.Fatalf("expected no rerank at topK")
	}
	if !reranker.Needed(6) {
		t.Fatalf("expected rerank above topK")
	}
	var disabled *Reranker
	if disabled.Needed(100) {
		t.Fatalf("expected nil reranker to be disabled")
	}
}

func TestParseRelevanceScore(t *testing.T) {
	cases := []struct {
		raw   string
		want  float64
		valid bool
	}{
		{raw: "8", want: 0.8, valid: true},
		{raw: " 7,5/10", want: 0.75, valid: true},
		{raw: "Pertinence: 10", want: 1, valid: true},
		{raw: "42", want: 1, valid: true},
		{raw: "aucune", valid: false},
	}
	for _, tc := range cases {
		got, ok := parseRelevanceScore(tc.raw)
		if ok != tc.valid || (ok && got != tc.want) {
			t.Fatalf("parseRelevanceScore(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.valid)
		}
	}
}

type stallingGenerator struct{}

func (stallingGenerator) Generate(ctx context.Context, _ string, _ domain.GenerationOptions) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRerankTimeoutFallsBackToNeutralScores(t *testing.T) {
	reranker := NewReranker(stallingGenerator{}, PromptBuilder{}, RerankerOptions{
		TopK:        2,
		Concurrency: 3,
		Timeout:     20 * time.Millisecond,
		Logger:      discardLogger(),
	})
	docs := []domain.RetrievedDocument{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	ranked, err := reranker.Rerank(context.Background(), "question", docs)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 || ranked[0].Document.ID != "a" || ranked[1].Document.ID != "b" {
		t.Fatalf("unexpected ranking: %+v", ranked)
	}
	for _, item := range ranked {
		if item.RelevanceScore != 0.5 {
			t.Fatalf("expected neutral score, got %v", item.RelevanceScore)
		}
	}
}
