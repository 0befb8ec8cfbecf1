package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

type searcherFake struct {
	mu     sync.Mutex
	docs   []domain.RetrievedDocument
	err    error
	calls  int
	query  string
	limit  int
	filter domain.SearchFilter
}

func (f *searcherFake) Search(_ context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.query = query
	f.filter = filter
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.RetrievedDocument, len(f.docs))
	copy(out, f.docs)
	return out, nil
}

type fallbackFake struct {
	docs []domain.RetrievedDocument
}

func (f *fallbackFake) FallbackDocuments(string, int) []domain.RetrievedDocument {
	out := make([]domain.RetrievedDocument, len(f.docs))
	copy(out, f.docs)
	return out
}

// generatorFake answers relevance prompts through relevance and everything
// else through answer.
type generatorFake struct {
	mu        sync.Mutex
	answer    string
	err       error
	relevance func(prompt string) (string, error)
	prompts   []string
	opts      []domain.GenerationOptions
}

func (f *generatorFake) Generate(_ context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	relevance := f.relevance
	f.mu.Unlock()

	if relevance != nil && strings.HasPrefix(prompt, "Evalue la pertinence") {
		return relevance(prompt)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *generatorFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *generatorFake) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type recorderFake struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (f *recorderFake) Record(event domain.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAskUseCaseForTest(searcher *searcherFake, generator *generatorFake, recorder *recorderFake, reranker *Reranker) *AskUseCase {
	logger := discardLogger()
	vocabulary := DefaultVocabulary()
	var audit ports.AuditRecorder
	if recorder != nil {
		audit = recorder
	}
	uc := NewAskUseCase(AskDeps{
		Expander:   NewQueryExpander(vocabulary.Synonyms),
		Retriever:  NewRetriever(searcher, &fallbackFake{}, RetrieverOptions{SimilarityThreshold: 0.15, Logger: logger}),
		Reranker:   reranker,
		Assembler:  NewContextAssembler(0, 0),
		Generator:  generator,
		Confidence: NewConfidenceEstimator(vocabulary),
		Audit:      audit,
		Logger:     logger,
	}, AskOptions{MaxContextDocuments: 20, ServiceName: "clinical-qa"})
	uc.newID = func() string { return "query-1" }
	return uc
}

func TestAskAnswersFromSingleDocument(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{
		ID:           "doc-1",
		Content:      "Diagnostic: Hypertension artérielle grade 2",
		Score:        0.82,
		Filename:     "consultation.txt",
		DocumentType: "consultation",
		PatientID:    "P001",
	}}}
	answerText := "Selon [SOURCE 1], le diagnostic retenu pour ce patient est une hypertension arterielle de grade 2. " +
		"Le document de consultation precise le stade de la pathologie et oriente la suite du traitement, " +
		"avec une surveillance reguliere de la tension arterielle recommandee."
	generator := &generatorFake{answer: answerText}
	recorder := &recorderFake{}
	uc := newAskUseCaseForTest(searcher, generator, recorder, nil)

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "Quel est le diagnostic ?", RequesterID: "dr-house"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.Contains(strings.ToLower(answer.Text), "hypertension") {
		t.Fatalf("expected answer to mention hypertension, got %q", answer.Text)
	}
	if answer.Confidence < 0.5 || answer.Confidence > 0.95 {
		t.Fatalf("expected confidence in [0.5,0.95], got %v", answer.Confidence)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].Index != 1 || answer.Sources[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected sources: %+v", answer.Sources)
	}
	if answer.QueryID != "query-1" {
		t.Fatalf("expected query id query-1, got %q", answer.QueryID)
	}
	if answer.Degraded {
		t.Fatalf("expected non-degraded answer")
	}
	if searcher.limit != 10 {
		t.Fatalf("expected searcher limit 10 (2x default), got %d", searcher.limit)
	}

	prompt := generator.lastPrompt()
	if !strings.Contains(prompt, "QUESTION: Quel est le diagnostic ?") {
		t.Fatalf("expected original question in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "[SOURCE 1]") {
		t.Fatalf("expected context block in prompt")
	}

	if len(recorder.events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(recorder.events))
	}
	event := recorder.events[0]
	if event.Action != domain.AuditActionQuery || event.RequesterID != "dr-house" || event.ResourceID != "query-1" {
		t.Fatalf("unexpected audit event: %+v", event)
	}
	if len(event.DocumentsAccessed) != 1 || event.DocumentsAccessed[0] != "doc-1" {
		t.Fatalf("unexpected documents accessed: %v", event.DocumentsAccessed)
	}
}

func TestAskRejectsEmptyQuestionBeforeAnyCall(t *testing.T) {
	searcher := &searcherFake{}
	generator := &generatorFake{answer: "x"}
	recorder := &recorderFake{}
	uc := newAskUseCaseForTest(searcher, generator, recorder, nil)

	for _, text := range []string{"", "   \n\t"} {
		_, err := uc.Ask(context.Background(), domain.Query{Text: text})
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", text, err)
		}
	}
	if searcher.calls != 0 || generator.calls() != 0 || len(recorder.events) != 0 {
		t.Fatalf("expected no collaborator calls, got search=%d gen=%d audit=%d", searcher.calls, generator.calls(), len(recorder.events))
	}
}

func TestAskRejectsOversizedQuestion(t *testing.T) {
	searcher := &searcherFake{}
	uc := newAskUseCaseForTest(searcher, &generatorFake{}, &recorderFake{}, nil)

	_, err := uc.Ask(context.Background(), domain.Query{Text: strings.Repeat("é", 2001)})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if searcher.calls != 0 {
		t.Fatalf("expected no search call")
	}
}

func TestAskNoDocumentsSkipsGeneration(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "bruit", Score: 0.05}}}
	generator := &generatorFake{answer: "x"}
	recorder := &recorderFake{}
	uc := newAskUseCaseForTest(searcher, generator, recorder, nil)

	_, err := uc.Ask(context.Background(), domain.Query{Text: "Quel traitement ?"})
	if !domain.IsKind(err, domain.ErrNoRelevantDocuments) {
		t.Fatalf("expected no relevant documents, got %v", err)
	}
	if generator.calls() != 0 {
		t.Fatalf("expected no generation call, got %d", generator.calls())
	}
	if len(recorder.events) != 0 {
		t.Fatalf("expected no audit event on failure")
	}
}

func TestAskExpandsQueryButPromptsWithOriginalQuestion(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "Glycemie a jeun 1.4 g/L.", Score: 0.7}}}
	generator := &generatorFake{answer: "Glycemie elevee [SOURCE 1]."}
	uc := newAskUseCaseForTest(searcher, generator, nil, nil)

	if _, err := uc.Ask(context.Background(), domain.Query{Text: "Le patient a-t-il un diabète ?"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.HasSuffix(searcher.query, "diabete glucose glycemie insuline") {
		t.Fatalf("expected expanded retrieval query, got %q", searcher.query)
	}
	if strings.Contains(generator.lastPrompt(), "insuline") {
		t.Fatalf("expected expansion to stay out of the prompt")
	}
}

func TestAskClampsMaxContextDocuments(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "texte", Score: 0.9}}}
	uc := newAskUseCaseForTest(searcher, &generatorFake{answer: "ok"}, nil, nil)

	if _, err := uc.Ask(context.Background(), domain.Query{Text: "q", MaxContextDocuments: 500}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if searcher.limit != 40 {
		t.Fatalf("expected clamped candidate limit 40, got %d", searcher.limit)
	}
}

func TestAskPropagatesFilters(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{
		{ID: "doc-1", Content: "a", Score: 0.9, PatientID: "P001", DocumentType: "consultation"},
		{ID: "doc-2", Content: "b", Score: 0.9, PatientID: "P002", DocumentType: "consultation"},
	}}
	uc := newAskUseCaseForTest(searcher, &generatorFake{answer: "ok"}, nil, nil)

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q", PatientID: " P001 ", DocumentType: "consultation"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if searcher.filter.PatientID != "P001" {
		t.Fatalf("expected trimmed patient filter, got %q", searcher.filter.PatientID)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].DocumentID != "doc-1" {
		t.Fatalf("expected only doc-1, got %+v", answer.Sources)
	}
}

func TestAskDegradedWhenSearcherFails(t *testing.T) {
	searcher := &searcherFake{err: errors.New("connection refused")}
	generator := &generatorFake{answer: "ok"}
	uc := NewAskUseCase(AskDeps{
		Retriever: NewRetriever(searcher, &fallbackFake{docs: []domain.RetrievedDocument{{ID: "demo-1", Content: "demo", Score: 0.8}}}, RetrieverOptions{Logger: discardLogger()}),
		Generator: generator,
		Logger:    discardLogger(),
	}, AskOptions{})

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !answer.Degraded {
		t.Fatalf("expected degraded answer")
	}
	if answer.Sources[0].DocumentID != "demo-1" {
		t.Fatalf("expected fallback source, got %+v", answer.Sources)
	}
}

func TestAskGenerationFailureIsReturned(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "texte", Score: 0.9}}}
	generator := &generatorFake{err: &domain.GenerationFailedError{Backend: "ollama", StatusCode: 500, Message: "boom"}}
	recorder := &recorderFake{}
	uc := newAskUseCaseForTest(searcher, generator, recorder, nil)

	_, err := uc.Ask(context.Background(), domain.Query{Text: "q"})
	if !domain.IsKind(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected generation failed, got %v", err)
	}
	var failed *domain.GenerationFailedError
	if !errors.As(err, &failed) || failed.StatusCode != 500 {
		t.Fatalf("expected status code to survive wrapping, got %v", err)
	}
	if len(recorder.events) != 0 {
		t.Fatalf("expected no audit event on failure")
	}
}

func TestAskCanceledContextSkipsGeneration(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "texte", Score: 0.9}}}
	generator := &generatorFake{answer: "ok"}
	uc := newAskUseCaseForTest(searcher, generator, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := uc.Ask(ctx, domain.Query{Text: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if generator.calls() != 0 {
		t.Fatalf("expected no generation call, got %d", generator.calls())
	}
}

func TestAskRerankKeepsTopK(t *testing.T) {
	docs := make([]domain.RetrievedDocument, 12)
	for i := range docs {
		docs[i] = domain.RetrievedDocument{ID: fmt.Sprintf("doc-%02d", i), Content: fmt.Sprintf("contenu %02d", i), Score: 0.9}
	}
	searcher := &searcherFake{docs: docs}
	generator := &generatorFake{
		answer: "ok",
		relevance: func(prompt string) (string, error) {
			if strings.Contains(prompt, "contenu 07") {
				return "9", nil
			}
			return "3", nil
		},
	}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 5, Concurrency: 3, Logger: discardLogger()})
	uc := newAskUseCaseForTest(searcher, generator, nil, reranker)

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q", MaxContextDocuments: 12})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(answer.Sources) != 5 {
		t.Fatalf("expected 5 sources after rerank, got %d", len(answer.Sources))
	}
	if answer.Sources[0].DocumentID != "doc-07" {
		t.Fatalf("expected highest judged document first, got %s", answer.Sources[0].DocumentID)
	}
}

func TestAskReportsRerankScoreOnSources(t *testing.T) {
	docs := make([]domain.RetrievedDocument, 4)
	for i := range docs {
		docs[i] = domain.RetrievedDocument{ID: fmt.Sprintf("doc-%02d", i), Content: fmt.Sprintf("contenu %02d", i), Score: 0.4}
	}
	generator := &generatorFake{
		answer: "ok",
		relevance: func(prompt string) (string, error) {
			if strings.Contains(prompt, "contenu 02") {
				return "8", nil
			}
			return "3", nil
		},
	}
	reranker := NewReranker(generator, PromptBuilder{}, RerankerOptions{TopK: 2, Logger: discardLogger()})
	uc := newAskUseCaseForTest(&searcherFake{docs: docs}, generator, nil, reranker)

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q", MaxContextDocuments: 4})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(answer.Sources))
	}
	if answer.Sources[0].DocumentID != "doc-02" || answer.Sources[0].RelevanceScore != 0.8 {
		t.Fatalf("expected doc-02 with rerank score 0.8, got %s %v", answer.Sources[0].DocumentID, answer.Sources[0].RelevanceScore)
	}
	if answer.Sources[1].RelevanceScore != 0.3 {
		t.Fatalf("expected second source with rerank score 0.3, got %v", answer.Sources[1].RelevanceScore)
	}
}

func TestAskWithoutRerankKeepsRetrievalScore(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "contenu", Score: 0.42}}}
	generator := &generatorFake{answer: "ok"}
	uc := newAskUseCaseForTest(searcher, generator, nil, nil)

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Sources[0].RelevanceScore != 0.42 {
		t.Fatalf("expected retrieval score 0.42, got %v", answer.Sources[0].RelevanceScore)
	}
}

func TestAskProcessingTimeUsesClock(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{{ID: "doc-1", Content: "texte", Score: 0.9}}}
	uc := newAskUseCaseForTest(searcher, &generatorFake{answer: "ok"}, nil, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticks := 0
	uc.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 250 * time.Millisecond)
	}

	answer, err := uc.Ask(context.Background(), domain.Query{Text: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.ProcessingTime != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", answer.ProcessingTime)
	}
}

func TestSearchDocumentsReturnsRetrieval(t *testing.T) {
	searcher := &searcherFake{docs: []domain.RetrievedDocument{
		{ID: "doc-1", Content: "a", Score: 0.9},
		{ID: "doc-2", Content: "b", Score: 0.1},
	}}
	generator := &generatorFake{}
	uc := newAskUseCaseForTest(searcher, generator, nil, nil)

	retrieval, err := uc.SearchDocuments(context.Background(), domain.Query{Text: "douleur thoracique"})
	if err != nil {
		t.Fatalf("SearchDocuments() error = %v", err)
	}
	if len(retrieval.Documents) != 1 || retrieval.Documents[0].Source != domain.SourceIndex {
		t.Fatalf("unexpected retrieval: %+v", retrieval)
	}
	if generator.calls() != 0 {
		t.Fatalf("expected no generation call")
	}
}
