package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

const auditSummaryChars = 500

// AskDeps are the collaborators of the answer pipeline. Reranker and Audit
// may be nil.
type AskDeps struct {
	Expander   *QueryExpander
	Retriever  *Retriever
	Reranker   *Reranker
	Assembler  *ContextAssembler
	Generator  ports.TextGenerator
	Confidence *ConfidenceEstimator
	Audit      ports.AuditRecorder
	Logger     *slog.Logger
}

type AskOptions struct {
	DefaultContextDocuments int
	MaxContextDocuments     int
	MaxQuestionChars        int
	AnswerMaxTokens         int
	ServiceName             string
}

type AskUseCase struct {
	deps    AskDeps
	opts    AskOptions
	prompts PromptBuilder
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewAskUseCase(deps AskDeps, opts AskOptions) *AskUseCase {
	if opts.DefaultContextDocuments <= 0 {
		opts.DefaultContextDocuments = 5
	}
	if opts.MaxContextDocuments < opts.DefaultContextDocuments {
		opts.MaxContextDocuments = opts.DefaultContextDocuments
	}
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = 2000
	}
	if opts.AnswerMaxTokens <= 0 {
		opts.AnswerMaxTokens = 1024
	}
	if deps.Expander == nil {
		deps.Expander = NewQueryExpander(nil)
	}
	if deps.Assembler == nil {
		deps.Assembler = NewContextAssembler(0, 0)
	}
	if deps.Confidence == nil {
		deps.Confidence = NewConfidenceEstimator(DefaultVocabulary())
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AskUseCase{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Ask runs expand → retrieve → rerank → assemble → generate → estimate and
// hands an audit event off without waiting for it.
func (uc *AskUseCase) Ask(ctx context.Context, query domain.Query) (*domain.GeneratedAnswer, error) {
	start := uc.now()

	query, err := uc.normalize(query)
	if err != nil {
		return nil, err
	}

	retrieval, err := uc.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	docs := retrieval.Documents
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrNoRelevantDocuments, "ask", fmt.Errorf("no document passed retrieval filters"))
	}

	if uc.deps.Reranker.Needed(len(docs)) {
		ranked, err := uc.deps.Reranker.Rerank(ctx, query.Text, docs)
		if err != nil {
			return nil, fmt.Errorf("rerank documents: %w", err)
		}
		docs = rankedDocuments(ranked)
	}

	assembled := uc.deps.Assembler.Assemble(docs)
	if len(assembled.Sources) == 0 {
		return nil, domain.WrapError(domain.ErrNoRelevantDocuments, "ask", fmt.Errorf("no document fits the context budget"))
	}

	prompt := uc.prompts.Answer(query.Text, assembled.Text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	answerText, err := uc.deps.Generator.Generate(ctx, prompt, domain.GenerationOptions{MaxTokens: uc.opts.AnswerMaxTokens})
	if err != nil {
		uc.logger.Error("rag_generation_failed", "error", err, "sources", len(assembled.Sources))
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer := &domain.GeneratedAnswer{
		Text:           answerText,
		Confidence:     uc.deps.Confidence.Estimate(answerText, assembled.Sources, query.Text),
		Sources:        assembled.Sources,
		ProcessingTime: uc.now().Sub(start),
		QueryID:        uc.newID(),
		Degraded:       retrieval.Degraded,
	}
	if answer.ProcessingTime < 0 {
		answer.ProcessingTime = 0
	}

	uc.logger.Info("rag_answer_generated",
		"query_id", answer.QueryID,
		"sources", len(answer.Sources),
		"confidence", answer.Confidence,
		"degraded", answer.Degraded,
		"duration_ms", answer.ProcessingTime.Milliseconds(),
	)
	uc.recordAudit(query, answer)
	return answer, nil
}

// SearchDocuments runs expansion and retrieval only.
func (uc *AskUseCase) SearchDocuments(ctx context.Context, query domain.Query) (domain.Retrieval, error) {
	query, err := uc.normalize(query)
	if err != nil {
		return domain.Retrieval{}, err
	}
	return uc.retrieve(ctx, query)
}

func (uc *AskUseCase) retrieve(ctx context.Context, query domain.Query) (domain.Retrieval, error) {
	expanded := uc.deps.Expander.Expand(query.Text)
	retrieval, err := uc.deps.Retriever.Retrieve(ctx, expanded, domain.SearchFilter{
		PatientID:    query.PatientID,
		DocumentType: query.DocumentType,
	}, query.MaxContextDocuments)
	if err != nil {
		return domain.Retrieval{}, fmt.Errorf("retrieve documents: %w", err)
	}
	return retrieval, nil
}

func (uc *AskUseCase) normalize(query domain.Query) (domain.Query, error) {
	text := strings.TrimSpace(query.Text)
	if text == "" {
		return query, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}
	if n := utf8.RuneCountInString(text); n > uc.opts.MaxQuestionChars {
		return query, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question has %d characters, limit is %d", n, uc.opts.MaxQuestionChars))
	}
	query.Text = text
	query.PatientID = strings.TrimSpace(query.PatientID)
	query.DocumentType = strings.TrimSpace(query.DocumentType)

	switch {
	case query.MaxContextDocuments <= 0:
		query.MaxContextDocuments = uc.opts.DefaultContextDocuments
	case query.MaxContextDocuments > uc.opts.MaxContextDocuments:
		query.MaxContextDocuments = uc.opts.MaxContextDocuments
	}
	return query, nil
}

func (uc *AskUseCase) recordAudit(query domain.Query, answer *domain.GeneratedAnswer) {
	if uc.deps.Audit == nil {
		return
	}
	accessed := make([]string, 0, len(answer.Sources))
	for _, source := range answer.Sources {
		accessed = append(accessed, source.DocumentID)
	}
	uc.deps.Audit.Record(domain.AuditEvent{
		ID:                uuid.NewString(),
		RequesterID:       requesterOrAnonymous(query.RequesterID),
		Action:            domain.AuditActionQuery,
		ResourceType:      "QA",
		ResourceID:        answer.QueryID,
		QueryText:         query.Text,
		ResponseSummary:   truncateRunes(answer.Text, auditSummaryChars),
		DocumentsAccessed: accessed,
		ProcessingTimeMs:  answer.ProcessingTime.Milliseconds(),
		Service:           uc.opts.ServiceName,
		Timestamp:         uc.now().UTC(),
	})
}
