// Package main provides the audit outbox relay entry point. It drains the
// claim_audit_outbox table into Redpanda, moving poison entries to the dead
// letter topic.
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

	"github.com/pbmlabs/rxadjudicator/internal/config"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/postgres"
	"github.com/pbmlabs/rxadjudicator/internal/infrastructure/redpanda"
	"github.com/pbmlabs/rxadjudicator/internal/observability/metrics"
	"github.com/pbmlabs/rxadjudicator/internal/observability/tracing"
	"github.com/pbmlabs/rxadjudicator/pkg/circuitbreaker"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	tracingCfg, err := tracing.ConfigFromEnv("outbox-relay")
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

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	breakerCfg := circuitbreaker.DefaultConfig("redpanda-publish")
	breakerCfg.OnStateChange = func(name string, state circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(state))
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create circuit breaker", zap.Error(err))
	}

	pub := &guardedPublisher{producer: producer, breaker: breaker, metrics: m}

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.BatchSize = cfg.BatchSize
	outbox := postgres.NewOutbox(store.Pool(), pub, outboxCfg, logger)
	outbox.Start()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	go maintenanceLoop(loopCtx, outbox, m, logger)

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux(store),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down relay")
	cancelLoops()
	outbox.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(flushCtx); err != nil {
		logger.Warn("producer flush error", zap.Error(err))
	}
	metricsServer.Shutdown(flushCtx)

	logger.Info("relay stopped")
}

// maintenanceLoop runs the periodic outbox chores: dead-lettering exhausted
// entries, trimming processed ones, and reporting queue depth.
func maintenanceLoop(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	depthTicker := time.NewTicker(15 * time.Second)
	choreTicker := time.NewTicker(time.Minute)
	defer depthTicker.Stop()
	defer choreTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-depthTicker.C:
			if pending, err := outbox.PendingCount(ctx); err == nil {
				m.OutboxPending.Set(float64(pending))
			}
		case <-choreTicker.C:
			if moved, err := outbox.MoveToDeadLetter(ctx); err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if moved > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
			}
			if _, err := outbox.CleanupProcessed(ctx, 24*time.Hour); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func metricsMux(store *postgres.Store) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Pool().Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// guardedPublisher routes outbox publishes through the circuit breaker so a
// dead broker trips fast instead of timing out entry by entry.
type guardedPublisher struct {
	producer *redpanda.Producer
	breaker  *circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
}

func (g *guardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	_, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, g.producer.Publish(ctx, topic, key, value)
	})
	if err != nil {
		return err
	}
	g.metrics.KafkaEventsRelayed.Inc()
	return nil
}

func stateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
