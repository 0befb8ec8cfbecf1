package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func TestRetrieverFiltersAndTruncates(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{
		{ID: "a", Score: 0.9, PatientID: "P1"},
		{ID: "b", Score: 0.1, PatientID: "P1"},
		{ID: "c", Score: 0.8, PatientID: "P2"},
		{ID: "d", Score: 0.15, PatientID: "P1"},
		{ID: "e", Score: 0.7, PatientID: "P1"},
	}}
	retriever := NewRetriever(searcher, nil, RetrieverOptions{SimilarityThreshold: 0.15, Logger: discardLogger()})

	got, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{PatientID: "P1"}, 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	want := domain.Retrieval{Documents: []domain.RetrievedDocument{
		{ID: "a", Score: 0.9, PatientID: "P1", Source: domain.SourceIndex},
		{ID: "d", Score: 0.15, PatientID: "P1", Source: domain.SourceIndex},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Retrieve() mismatch (-want +got):\n%s", diff)
	}
	if searcher.limit != 4 {
		t.Fatalf("expected 2x candidate limit, got %d", searcher.limit)
	}
}

func TestRetrieverDefaultLimit(t *testing.T) {
	searcher := &searcherFake{}
	retriever := NewRetriever(searcher, nil, RetrieverOptions{Logger: discardLogger()})
	if _, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 0); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if searcher.limit != 10 {
		t.Fatalf("expected default candidate limit 10, got %d", searcher.limit)
	}
}

func TestRetrieverFallbackIsFilteredAndDegraded(t *testing.T) {
	searcher := &searcherFake{err: errors.New("dial tcp: connection refused")}
	fallback := &fallbackFake{docs: []domain.RetrievedDocument{
		{ID: "demo-1", Score: 0.8, DocumentType: "consultation"},
		{ID: "demo-2", Score: 0.8, DocumentType: "biologie"},
		{ID: "demo-3", Score: 0.05, DocumentType: "consultation"},
	}}
	retriever := NewRetriever(searcher, fallback, RetrieverOptions{SimilarityThreshold: 0.15, Logger: discardLogger()})

	got, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{DocumentType: "consultation"}, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !got.Degraded {
		t.Fatalf("expected degraded retrieval")
	}
	if len(got.Documents) != 1 || got.Documents[0].ID != "demo-1" || got.Documents[0].Source != domain.SourceFallback {
		t.Fatalf("unexpected fallback documents: %+v", got.Documents)
	}
}

func TestRetrieverWithoutFallbackReturnsEmptyDegraded(t *testing.T) {
	retriever := NewRetriever(&searcherFake{err: errors.New("down")}, nil, RetrieverOptions{Logger: discardLogger()})
	got, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !got.Degraded || len(got.Documents) != 0 {
		t.Fatalf("expected empty degraded retrieval, got %+v", got)
	}
}

func TestRetrieverNilSearcherDegrades(t *testing.T) {
	retriever := NewRetriever(nil, &fallbackFake{docs: []domain.RetrievedDocument{{ID: "demo-1", Score: 1}}}, RetrieverOptions{Logger: discardLogger()})
	got, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !got.Degraded || len(got.Documents) != 1 {
		t.Fatalf("expected fallback retrieval, got %+v", got)
	}
}

func TestRetrieverCanceledContextReturnsError(t *testing.T) {
	searcher := &blockingSearcher{}
	retriever := NewRetriever(searcher, &fallbackFake{docs: []domain.RetrievedDocument{{ID: "demo-1", Score: 1}}}, RetrieverOptions{Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retriever.Retrieve(ctx, "q", domain.SearchFilter{}, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetrieverTimeoutFallsBack(t *testing.T) {
	searcher := &blockingSearcher{}
	retriever := NewRetriever(searcher, &fallbackFake{docs: []domain.RetrievedDocument{{ID: "demo-1", Score: 1}}}, RetrieverOptions{
		Timeout: 20 * time.Millisecond,
		Logger:  discardLogger(),
	})

	got, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !got.Degraded {
		t.Fatalf("expected degraded retrieval after search timeout")
	}
}

type blockingSearcher struct{}

func (blockingSearcher) Search(ctx context.Context, _ string, _ domain.SearchFilter, _ int) ([]domain.RetrievedDocument, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
