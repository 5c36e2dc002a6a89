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

	"github.com/joho/godotenv"

	"github.com/podushkina/moderation/internal/api"
	"github.com/podushkina/moderation/internal/app"
	"github.com/podushkina/moderation/internal/classifier"
	"github.com/podushkina/moderation/internal/config"
	"github.com/podushkina/moderation/internal/service"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "open dependencies", err)
	}
	defer deps.Close()

	var predictor api.Predictor
	if clf, err := app.NewClassifier(cfg); err != nil {
		logger.Error("model not loaded, /predict disabled", "error", err)
	} else {
		predictor = classifier.NewAdapter(clf, logger)
	}

	moderation := service.NewModeration(deps.Store, deps.Catalog, deps.Producer, logger)
	router := api.NewRouter(api.NewHandler(moderation, predictor))

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
