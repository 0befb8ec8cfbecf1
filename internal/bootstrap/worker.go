package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/clinical-qa/internal/config"
	"github.com/kirillkom/clinical-qa/internal/core/usecase"
	natsqueue "github.com/kirillkom/clinical-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/clinical-qa/internal/observability/metrics"
)

// AuditWorker consumes audit events from NATS and stores them in Postgres.
type AuditWorker struct {
	Config  config.Config
	Queue   *natsqueue.AuditQueue
	Persist *usecase.PersistAuditUseCase
	Metrics *metrics.WorkerMetrics

	closeFn func()
}

func NewAuditWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*AuditWorker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewAuditRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	queue, err := natsqueue.New(cfg.NATSURL, cfg.NATSAuditSubject, natsqueue.Options{
		Name:               cfg.ServiceName + "-audit-worker",
		ResilienceExecutor: resilience.NewExecutor(resilienceConfig(cfg, logger)),
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit queue: %w", err)
	}

	return &AuditWorker{
		Config:  cfg,
		Queue:   queue,
		Persist: usecase.NewPersistAuditUseCase(repo, logger),
		Metrics: metrics.NewWorkerMetrics(cfg.ServiceName),
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *AuditWorker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
