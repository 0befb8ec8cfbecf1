package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirillkom/clinical-qa/internal/config"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
	"github.com/kirillkom/clinical-qa/internal/core/usecase"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/audit"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/fallback"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/llm/openaicompat"
	natsqueue "github.com/kirillkom/clinical-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/vector/indexer"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/clinical-qa/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	AskUC     *usecase.AskUseCase
	ExtractUC *usecase.ExtractUseCase
	Stats     Stats

	audit   *audit.Dispatcher
	closers []func()
}

// Stats describes the wired backends for the stats endpoint and the CLI.
type Stats struct {
	VectorBackend     string
	GenerationBackend string
	GenerationModel   string
	DocumentSource    string
	AuditSink         string
	FallbackMode      string
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewHTTPServerMetrics(cfg.ServiceName),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	resilienceCfg := resilienceConfig(cfg, logger)
	resilienceCfg.OnStateChange = func(operation, _, to string) {
		app.Metrics.RecordBreakerState(cfg.ServiceName, operation, to)
	}
	exec := resilience.NewExecutor(resilienceCfg)

	vocabulary, err := config.LoadVocabulary(cfg.RAGVocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Temperature:   cfg.LLMTemperature,
		TopP:          cfg.LLMTopP,
		TopK:          cfg.LLMTopK,
		NumCtx:        cfg.LLMNumCtx,
		RepeatPenalty: cfg.LLMRepeatPenalty,
		MaxTokens:     cfg.LLMMaxTokens,
		Stop:          ollama.DefaultStopSequences,
		Timeout:       cfg.LLMTimeout,
	})
	embedder := ollama.NewEmbedder(ollamaClient)

	generator, model, err := newGenerator(cfg, ollamaClient)
	if err != nil {
		return nil, err
	}

	var indexerClient *indexer.Client
	indexerFor := func() *indexer.Client {
		if indexerClient == nil {
			indexerClient = indexer.New(cfg.IndexerURL, exec, cfg.RAGRetrievalTimeout)
		}
		return indexerClient
	}

	searcher, err := app.newSearcher(ctx, cfg, embedder, exec, indexerFor)
	if err != nil {
		return nil, err
	}
	documents, err := app.newDocumentSource(ctx, cfg, indexerFor)
	if err != nil {
		return nil, err
	}
	fallbackProvider, err := newFallback(cfg.RAGFallbackMode)
	if err != nil {
		return nil, err
	}
	recorder, err := app.newAuditRecorder(cfg, exec)
	if err != nil {
		return nil, err
	}

	var reranker *usecase.Reranker
	if cfg.RAGRerankEnabled {
		reranker = usecase.NewReranker(generator, usecase.PromptBuilder{}, usecase.RerankerOptions{
			TopK:        cfg.RAGRerankTopK,
			Concurrency: cfg.RAGRerankConcurrency,
			Timeout:     cfg.RAGRerankTimeout,
			Logger:      logger,
		})
	}

	app.AskUC = usecase.NewAskUseCase(usecase.AskDeps{
		Expander: usecase.NewQueryExpander(vocabulary.Synonyms),
		Retriever: usecase.NewRetriever(searcher, fallbackProvider, usecase.RetrieverOptions{
			SimilarityThreshold: cfg.RAGSimilarityThreshold,
			Timeout:             cfg.RAGRetrievalTimeout,
			Logger:              logger,
		}),
		Reranker:   reranker,
		Assembler:  usecase.NewContextAssembler(cfg.RAGMaxContextLength, cfg.RAGDocumentWindow),
		Generator:  generator,
		Confidence: usecase.NewConfidenceEstimator(vocabulary),
		Audit:      recorder,
		Logger:     logger,
	}, usecase.AskOptions{
		DefaultContextDocuments: cfg.RAGTopK,
		MaxContextDocuments:     cfg.RAGMaxContextDocuments,
		MaxQuestionChars:        cfg.RAGMaxQuestionChars,
		AnswerMaxTokens:         cfg.LLMMaxTokens,
		ServiceName:             cfg.ServiceName,
	})
	app.ExtractUC = usecase.NewExtractUseCase(documents, generator, recorder, cfg.ServiceName, logger)

	app.Stats = Stats{
		VectorBackend:     strings.ToLower(cfg.VectorBackend),
		GenerationBackend: strings.ToLower(cfg.GenerationBackend),
		GenerationModel:   model,
		DocumentSource:    strings.ToLower(cfg.DocumentSource),
		AuditSink:         strings.ToLower(cfg.AuditSink),
		FallbackMode:      strings.ToLower(cfg.RAGFallbackMode),
	}
	return app, nil
}

// resilienceConfig applies the env overrides to the default policies. Audit
// delivery keeps its own attempt budget since nobody waits on it.
func resilienceConfig(cfg config.Config, logger *slog.Logger) resilience.Config {
	out := resilience.DefaultConfig()
	out.Logger = logger
	out.Retry.MaxAttempts = cfg.RetryMaxAttempts
	out.Retry.InitialBackoff = cfg.RetryInitialBackoff
	out.Retry.MaxBackoff = cfg.RetryMaxBackoff
	out.Breaker.Enabled = cfg.BreakerEnabled
	out.Breaker.FailureRatio = cfg.BreakerFailureRatio
	out.Breaker.OpenTimeout = cfg.BreakerOpenTimeout
	if cfg.BreakerMinRequests > 0 {
		out.Breaker.MinRequests = uint32(cfg.BreakerMinRequests)
	}
	for family, policy := range out.Overrides {
		policy.MaxAttempts = cfg.AuditRetryMaxAttempts
		out.Overrides[family] = policy
	}
	return out
}

func newGenerator(cfg config.Config, ollamaClient *ollama.Client) (ports.TextGenerator, string, error) {
	switch strings.ToLower(cfg.GenerationBackend) {
	case "", "ollama":
		return ollama.NewGenerator(ollamaClient), ollamaClient.Model(), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", errors.New("GENERATION_BACKEND=openai requires OPENAI_API_KEY")
		}
		generator := openaicompat.NewGenerator(openaicompat.Options{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			TopP:        cfg.LLMTopP,
			MaxTokens:   cfg.LLMMaxTokens,
			Stop:        ollama.DefaultStopSequences,
			Timeout:     cfg.LLMTimeout,
		})
		return generator, generator.Model(), nil
	default:
		return nil, "", fmt.Errorf("unknown GENERATION_BACKEND %q", cfg.GenerationBackend)
	}
}

func (a *App) newSearcher(
	ctx context.Context,
	cfg config.Config,
	embedder ports.Embedder,
	exec *resilience.Executor,
	indexerFor func() *indexer.Client,
) (ports.VectorSearcher, error) {
	switch strings.ToLower(cfg.VectorBackend) {
	case "", "indexer":
		return indexerFor(), nil
	case "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder, exec), nil
	case "pgvector":
		pool, err := pgxpool.New(ctx, cfg.PGVectorDSN)
		if err != nil {
			return nil, fmt.Errorf("open pgvector pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping pgvector: %w", err)
		}
		return pgvector.New(pool, embedder, exec), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

func (a *App) newDocumentSource(ctx context.Context, cfg config.Config, indexerFor func() *indexer.Client) (ports.DocumentSource, error) {
	switch strings.ToLower(cfg.DocumentSource) {
	case "", "indexer":
		return indexerFor(), nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		repo := postgres.NewDocumentRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure document schema: %w", err)
		}
		return repo, nil
	case "localfs":
		storage, err := localfs.New(cfg.DocumentsPath)
		if err != nil {
			return nil, fmt.Errorf("init document directory: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown DOCUMENT_SOURCE %q", cfg.DocumentSource)
	}
}

func newFallback(mode string) (ports.FallbackProvider, error) {
	switch strings.ToLower(mode) {
	case "", "none":
		return fallback.None{}, nil
	case "demo":
		return fallback.Demo(), nil
	default:
		return nil, fmt.Errorf("unknown RAG_FALLBACK_MODE %q", mode)
	}
}

func (a *App) newAuditRecorder(cfg config.Config, exec *resilience.Executor) (ports.AuditRecorder, error) {
	var sink ports.AuditSink
	switch strings.ToLower(cfg.AuditSink) {
	case "none":
		return audit.NopRecorder{}, nil
	case "", "http":
		sink = audit.NewHTTPSink(cfg.AuditURL, exec, cfg.AuditTimeout)
	case "nats":
		queue, err := natsqueue.New(cfg.NATSURL, cfg.NATSAuditSubject, natsqueue.Options{
			Name:               cfg.ServiceName,
			ResilienceExecutor: exec,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init audit queue: %w", err)
		}
		a.closers = append(a.closers, queue.Close)
		sink = queue
	default:
		return nil, fmt.Errorf("unknown AUDIT_SINK %q", cfg.AuditSink)
	}

	a.audit = audit.NewDispatcher(sink, audit.DispatcherOptions{
		Buffer:  cfg.AuditBuffer,
		Timeout: cfg.AuditTimeout,
		Logger:  a.Logger,
		OnFailure: func(reason string) {
			a.Metrics.RecordAuditFailure(cfg.ServiceName, reason)
		},
	})
	return a.audit, nil
}

// Close drains pending audit events, then releases connections in reverse
// order of creation.
func (a *App) Close() {
	if a.audit != nil {
		timeout := a.Config.AuditTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.audit.Close(ctx); err != nil {
			a.Logger.Warn("audit_drain_incomplete", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
