package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/clinical-qa/internal/bootstrap"
	"github.com/kirillkom/clinical-qa/internal/config"
	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/observability/logging"
)

const persistTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName+"-audit-worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewAuditWorker(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           worker.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("audit_worker_subscribed", "subject", cfg.NATSAuditSubject)
	err = worker.Queue.SubscribeAuditEvents(ctx, func(handlerCtx context.Context, event domain.AuditEvent) error {
		persistCtx, cancel := context.WithTimeout(handlerCtx, persistTimeout)
		defer cancel()

		worker.Metrics.ObserveEventLag(cfg.ServiceName, time.Since(event.Timestamp))
		worker.Metrics.StartEvent()
		start := time.Now()
		err := worker.Persist.Persist(persistCtx, event)
		if domain.IsKind(err, domain.ErrInvalidInput) {
			worker.Metrics.RejectEvent(cfg.ServiceName)
			return err
		}
		worker.Metrics.FinishEvent(cfg.ServiceName, time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("audit_worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
