// Package main provides the claim adjudication API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pbmlabs/rxadjudicator/internal/adjudication"
	"github.com/pbmlabs/rxadjudicator/internal/api/handlers"
	"github.com/pbmlabs/rxadjudicator/internal/api/middleware"
	"github.com/pbmlabs/rxadjudicator/internal/config"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/postgres"
	"github.com/pbmlabs/rxadjudicator/internal/observability/metrics"
	"github.com/pbmlabs/rxadjudicator/internal/observability/tracing"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	tracingCfg, err := tracing.ConfigFromEnv("adjudication-api")
	if err != nil {
		logger.Fatal("tracing config error", zap.Error(err))
	}
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	m := metrics.New()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open claim store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("connected to database, migrations applied")

	engine := adjudication.NewEngine(store, logger, adjudication.WithMetrics(m))
	claimsHandler := handlers.NewClaimsHandler(engine, store, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("adjudication-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Pool().Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/claims", claimsHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting adjudication API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"adjudication-api","version":"1.0.0"}`)
}
