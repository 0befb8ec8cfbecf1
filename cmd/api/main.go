package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/clinical-qa/internal/adapters/http"
	"github.com/kirillkom/clinical-qa/internal/bootstrap"
	"github.com/kirillkom/clinical-qa/internal/config"
	"github.com/kirillkom/clinical-qa/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(app.AskUC, app.AskUC, app.ExtractUC, httpadapter.RouterOptions{
		ServiceName:    cfg.ServiceName,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		QueueWait:      cfg.APIQueueWait,
		Metrics:        app.Metrics,
		Logger:         logger,
		Stats: httpadapter.StatsInfo{
			VectorBackend:     app.Stats.VectorBackend,
			GenerationBackend: app.Stats.GenerationBackend,
			GenerationModel:   app.Stats.GenerationModel,
			DocumentSource:    app.Stats.DocumentSource,
			AuditSink:         app.Stats.AuditSink,
			FallbackMode:      app.Stats.FallbackMode,
			RerankEnabled:     cfg.RAGRerankEnabled,
			RerankTopK:        cfg.RAGRerankTopK,
			MaxContextLength:  cfg.RAGMaxContextLength,
		},
	}).Handler()

	// Generation dominates latency, so the write timeout covers the LLM
	// timeout plus retrieval and reranking.
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMTimeout + cfg.RAGRetrievalTimeout + cfg.RAGRerankTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
