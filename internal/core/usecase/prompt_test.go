package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

func TestPromptBuilderAnswerIsDeterministic(t *testing.T) {
	var prompts PromptBuilder
	first := prompts.Answer("Quel traitement ?", "[SOURCE 1]\n...")
	second := prompts.Answer("Quel traitement ?", "[SOURCE 1]\n...")
	if first != second {
		t.Fatalf("expected identical prompts for identical inputs")
	}
	for _, want := range []string{"[SOURCE 1]", "QUESTION: Quel traitement ?", "CONSIGNES:", "REPONSE:"} {
		if !strings.Contains(first, want) {
			t.Fatalf("expected prompt to contain %q", want)
		}
	}
	if strings.Index(first, "[SOURCE 1]") > strings.Index(first, "QUESTION:") {
		t.Fatalf("expected context before question")
	}
}

func TestPromptBuilderRelevance(t *testing.T) {
	prompt := PromptBuilder{}.Relevance("douleur ?", "extrait")
	if !strings.Contains(prompt, "Question: douleur ?") || !strings.Contains(prompt, "Document: extrait") || !strings.Contains(prompt, "0-10") {
		t.Fatalf("unexpected relevance prompt: %q", prompt)
	}
}

func TestPromptBuilderExtractionPerKind(t *testing.T) {
	var prompts PromptBuilder
	seen := map[string]bool{}
	for _, kind := range []domain.ExtractionKind{domain.ExtractionPathologies, domain.ExtractionTreatments, domain.ExtractionHistory} {
		prompt := prompts.Extraction("contenu", kind)
		if !strings.Contains(prompt, extractionInstructions[kind]) {
			t.Fatalf("expected %s instruction in prompt", kind)
		}
		if !strings.Contains(prompt, `"items"`) {
			t.Fatalf("expected JSON shape in prompt")
		}
		seen[prompt] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected distinct prompts per kind")
	}
}

func TestPromptBuilderExtractionTruncatesContent(t *testing.T) {
	prompt := PromptBuilder{}.Extraction(strings.Repeat("a", 5000), domain.ExtractionHistory)
	if !strings.Contains(prompt, strings.Repeat("a", extractionContentChars)) {
		t.Fatalf("expected %d content runes kept", extractionContentChars)
	}
	if strings.Contains(prompt, strings.Repeat("a", extractionContentChars+1)) {
		t.Fatalf("expected at most %d content runes", extractionContentChars)
	}
}
