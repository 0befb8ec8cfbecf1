package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

type documentSourceFake struct {
	docs  map[string]*domain.ClinicalDocument
	calls int
}

func (f *documentSourceFake) GetDocument(_ context.Context, id string) (*domain.ClinicalDocument, error) {
	f.calls++
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("document %s", id))
	}
	return doc, nil
}

func newExtractFixture(answer string) (*ExtractUseCase, *documentSourceFake, *generatorFake, *recorderFake) {
	documents := &documentSourceFake{docs: map[string]*domain.ClinicalDocument{
		"doc-1": {ID: "doc-1", Content: "Patient suivi pour HTA et diabete de type 2. Metformine 1000 mg x2/j."},
	}}
	generator := &generatorFake{answer: answer}
	recorder := &recorderFake{}
	return NewExtractUseCase(documents, generator, recorder, "clinical-qa", discardLogger()), documents, generator, recorder
}

func TestExtractParsesJSONResponse(t *testing.T) {
	answer := "Voici le resultat:\n```json\n{\"items\": [\"HTA\", \"Diabete de type 2\"], \"details\": {\"HTA\": \"connue\", \"Diabete de type 2\": {\"depuis\": 2019}}}\n```"
	uc, _, generator, recorder := newExtractFixture(answer)

	got, err := uc.Extract(context.Background(), domain.ExtractionRequest{DocumentID: "doc-1", Kind: domain.ExtractionPathologies, RequesterID: "dr-1"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := &domain.ExtractionResult{
		DocumentID: "doc-1",
		Kind:       domain.ExtractionPathologies,
		Items:      []string{"HTA", "Diabete de type 2"},
		Details:    map[string]string{"HTA": "connue", "Diabete de type 2": `{"depuis":2019}`},
		Count:      2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
	if generator.opts[0].MaxTokens != extractionMaxTokens {
		t.Fatalf("expected extraction token cap, got %d", generator.opts[0].MaxTokens)
	}

	if len(recorder.events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(recorder.events))
	}
	event := recorder.events[0]
	if event.Action != domain.AuditActionExtraction || event.ResourceType != "PATHOLOGIES" || event.ResourceID != "doc-1" || event.RequesterID != "dr-1" {
		t.Fatalf("unexpected audit event: %+v", event)
	}
}

func TestExtractFallsBackToBulletLines(t *testing.T) {
	answer := "Traitements identifies:\n- Metformine 1000 mg\n• Ramipril 5 mg\n* Aspirine 75 mg\nfin de liste\n-   \n"
	uc, _, _, _ := newExtractFixture(answer)

	got, err := uc.Extract(context.Background(), domain.ExtractionRequest{DocumentID: "doc-1", Kind: domain.ExtractionTreatments})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	wantItems := []string{"Metformine 1000 mg", "Ramipril 5 mg", "Aspirine 75 mg"}
	if diff := cmp.Diff(wantItems, got.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if len(got.Details) != 0 || got.Details == nil {
		t.Fatalf("expected empty non-nil details, got %v", got.Details)
	}
	if got.Count != 3 {
		t.Fatalf("expected count 3, got %d", got.Count)
	}
}

func TestExtractCountMatchesItems(t *testing.T) {
	uc, _, _, _ := newExtractFixture(`{"items": []}`)
	got, err := uc.Extract(context.Background(), domain.ExtractionRequest{DocumentID: "doc-1", Kind: domain.ExtractionHistory})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Count != len(got.Items) || got.Count != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestExtractUnknownDocument(t *testing.T) {
	uc, _, generator, recorder := newExtractFixture("{}")
	_, err := uc.Extract(context.Background(), domain.ExtractionRequest{DocumentID: "missing", Kind: domain.ExtractionHistory})
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected document not found, got %v", err)
	}
	if generator.calls() != 0 || len(recorder.events) != 0 {
		t.Fatalf("expected no generation or audit on missing document")
	}
}

func TestExtractRejectsInvalidRequest(t *testing.T) {
	uc, documents, _, _ := newExtractFixture("{}")
	cases := []domain.ExtractionRequest{
		{DocumentID: "", Kind: domain.ExtractionHistory},
		{DocumentID: "doc-1", Kind: domain.ExtractionKind(0)},
		{DocumentID: "doc-1", Kind: domain.ExtractionKind(42)},
	}
	for _, req := range cases {
		if _, err := uc.Extract(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}
	if documents.calls != 0 {
		t.Fatalf("expected no document lookup")
	}
}

func TestExtractGenerationError(t *testing.T) {
	uc, _, generator, recorder := newExtractFixture("")
	generator.err = domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate", errors.New("connection refused"))

	_, err := uc.Extract(context.Background(), domain.ExtractionRequest{DocumentID: "doc-1", Kind: domain.ExtractionTreatments})
	if !domain.IsKind(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected generation unavailable, got %v", err)
	}
	if len(recorder.events) != 0 {
		t.Fatalf("expected no audit on failure")
	}
}
