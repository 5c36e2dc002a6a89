package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podushkina/moderation/internal/app"
	"github.com/podushkina/moderation/internal/classifier"
	"github.com/podushkina/moderation/internal/config"
	"github.com/podushkina/moderation/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"worker_id", cfg.WorkerID,
		"broker", cfg.Broker,
		"task_store", cfg.TaskStore,
		"consumer_group", cfg.ConsumerGroup,
		"workers", cfg.WorkerCount,
		"max_retries", cfg.MaxRetries,
		"retry_delay", cfg.RetryDelay,
		"retry_backoff", cfg.RetryBackoff,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "open dependencies", err)
	}
	defer deps.Close()

	clf, err := app.NewClassifier(cfg)
	if err != nil {
		fatal(logger, "load model", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipeline := worker.NewPipeline(
		deps.Store,
		deps.Catalog,
		classifier.NewAdapter(clf, logger),
		deps.Producer,
		app.NewPolicy(cfg),
		logger,
	).WithMetrics(worker.NewMetrics(registry))

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	pool := worker.NewPool(deps.Channel, cfg.WorkTopic, pipeline, cfg.WorkerCount, logger)
	if err := pool.Start(runCtx); err != nil {
		fatal(logger, "subscribe to work topic", err, "topic", cfg.WorkTopic)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Stop fetching; in-flight commits run on a detached context.
	cancelRun()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown timeout, unacknowledged messages will be redelivered")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	logger.Info("worker stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
