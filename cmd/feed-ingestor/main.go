// Package main provides the claims feed ingestor entry point. It consumes
// raw claim records from the feed topic, stages them, and adjudicates valid
// ones exactly once.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/adjudication"
	"github.com/pbmlabs/rxadjudicator/internal/config"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/postgres"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/redpanda"
	"github.com/pbmlabs/rxadjudicator/internal/ingest"
	"github.com/pbmlabs/rxadjudicator/internal/observability/metrics"
	"github.com/pbmlabs/rxadjudicator/internal/observability/tracing"
	"github.com/pbmlabs/rxadjudicator/pkg/idempotency"
	"github.com/pbmlabs/rxadjudicator/pkg/workerpool"
)

func main() {
	cfg, err := config.LoadIngestor()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	tracingCfg, err := tracing.ConfigFromEnv("feed-ingestor")
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

	engine := adjudication.NewEngine(store, logger, adjudication.WithMetrics(m))

	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.IsTerminal = ingest.IsTerminal
	inbox := idempotency.NewInbox(store.Pool(), inboxCfg, logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	if recovered, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", recovered))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers

	ingestor, err := ingest.NewIngestor(store, engine, inbox, poolCfg, logger,
		ingest.WithMetrics(m),
		ingest.WithPublisher(producer),
	)
	if err != nil {
		logger.Fatal("failed to create ingestor", zap.Error(err))
	}
	ingestor.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.GroupID
	consumer, err := redpanda.NewConsumer(consumerCfg, ingestor.Handle, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux(store, ingestor, cfg.KafkaBrokers),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("feed ingestor started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.GroupID),
		zap.Int("workers", cfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down ingestor")
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop error", zap.Error(err))
	}
	if err := ingestor.Stop(); err != nil {
		logger.Warn("ingestor stop error", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(flushCtx); err != nil {
		logger.Warn("producer flush error", zap.Error(err))
	}
	metricsServer.Shutdown(flushCtx)

	logger.Info("ingestor stopped")
}

func metricsMux(store *postgres.Store, ingestor *ingest.Ingestor, brokers []string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Pool().Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), brokers); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		stats := ingestor.PoolStats()
		fmt.Fprintf(w, `{"status":"healthy","queue_depth":%d,"completed":%d,"failed":%d}`,
			stats.QueueDepth, stats.TasksCompleted, stats.TasksFailed)
	})
	return mux
}
