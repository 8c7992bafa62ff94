// Package metrics provides Prometheus metrics for the adjudication engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ClaimsProcessed     prometheus.Counter
	ClaimsRejected      *prometheus.CounterVec
	ClaimsFailed        *prometheus.CounterVec
	AdjudicationSeconds prometheus.Histogram
	FeedRecordsValid    prometheus.Counter
	FeedRecordsInvalid  prometheus.Counter
	KafkaEventsRelayed  prometheus.Counter
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		ClaimsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_processed_total",
			Help: "Total claims adjudicated as processed",
		}),
		ClaimsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_rejected_total",
			Help: "Total claims rejected, by rejection code",
		}, []string{"code"}),
		ClaimsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_failed_total",
			Help: "Total adjudications aborted before persistence, by error class",
		}, []string{"error"}),
		AdjudicationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "claim_adjudication_duration_seconds",
			Help:    "Claim adjudication duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		FeedRecordsValid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_records_valid_total",
			Help: "Total feed records that passed validation",
		}),
		FeedRecordsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_records_invalid_total",
			Help: "Total feed records staged as invalid",
		}),
		KafkaEventsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_events_relayed_total",
			Help: "Total audit change events relayed to Kafka",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.ClaimsProcessed,
		m.ClaimsRejected,
		m.ClaimsFailed,
		m.AdjudicationSeconds,
		m.FeedRecordsValid,
		m.FeedRecordsInvalid,
		m.KafkaEventsRelayed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
