package usecase

import (
	"fmt"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

const extractionContentChars = 3000

const answerSystemInstruction = `Tu es un assistant medical specialise dans l'analyse de documents cliniques.
Reponds UNIQUEMENT a partir des documents fournis.
Si une information est absente des documents, dis-le explicitement.
Sois precis et professionnel, et cite tes sources sous la forme [SOURCE n].`

var extractionInstructions = map[domain.ExtractionKind]string{
	domain.ExtractionPathologies: "Extrais toutes les maladies, diagnostics, syndromes et conditions medicales.",
	domain.ExtractionTreatments:  "Extrais tous les medicaments, traitements et therapies, avec leur posologie si elle est indiquee.",
	domain.ExtractionHistory:     "Extrais tous les antecedents medicaux, chirurgicaux et familiaux ainsi que les allergies.",
}

// PromptBuilder renders the fixed templates. Output depends only on its inputs.
type PromptBuilder struct{}

func (PromptBuilder) Answer(question, contextText string) string {
	return fmt.Sprintf(`%s

Documents medicaux pertinents:

%s

---

QUESTION: %s

CONSIGNES:
1. Base ta reponse uniquement sur les documents ci-dessus.
2. Si l'information n'y figure pas, indique-le clairement.
3. Structure ta reponse de maniere claire et professionnelle.

REPONSE:`, answerSystemInstruction, contextText, question)
}

func (PromptBuilder) Relevance(question, excerpt string) string {
	return fmt.Sprintf(`Evalue la pertinence de cet extrait de document par rapport a la question.
Renvoie UNIQUEMENT un nombre entre 0 et 10.

Question: %s
Document: %s

Score de pertinence (0-10):`, question, excerpt)
}

func (PromptBuilder) Extraction(content string, kind domain.ExtractionKind) string {
	instruction, ok := extractionInstructions[kind]
	if !ok {
		instruction = "Extrais les informations medicales pertinentes."
	}
	return fmt.Sprintf(`Tu es un extracteur d'informations medicales.

DOCUMENT:
%s

INSTRUCTION: %s

Renvoie un objet JSON de la forme:
{"items": ["element1", "element2"], "details": {"element1": "precisions"}}

EXTRACTION JSON:`, truncateRunes(content, extractionContentChars), instruction)
}
