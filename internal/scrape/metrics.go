package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the engine. A nil *Metrics
// is valid and records nothing, so tests and the file-store CLI path
// can run without a registry.
type Metrics struct {
	Registry            *prometheus.Registry
	AttemptsTotal       prometheus.Counter
	RetriesTotal        prometheus.Counter
	FailuresTotal       *prometheus.CounterVec
	OutcomesTotal       *prometheus.CounterVec
	RecordsWrittenTotal prometheus.Counter
	AttemptDuration     prometheus.Histogram
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrape_attempts_total",
			Help: "Total scrape attempts started.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrape_retries_total",
			Help: "Total retry attempts scheduled after transient failures.",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_failures_total",
			Help: "Total failed attempts by failure kind.",
		},
		[]string{"kind"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_outcomes_total",
			Help: "Total finished terms by outcome status.",
		},
		[]string{"status"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrape_records_written_total",
			Help: "Total product records written to storage.",
		},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrape_attempt_duration_seconds",
			Help:    "Wall time per attempt including page loads.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(attempts, retries, failures, outcomes, records, duration)

	return &Metrics{
		Registry:            registry,
		AttemptsTotal:       attempts,
		RetriesTotal:        retries,
		FailuresTotal:       failures,
		OutcomesTotal:       outcomes,
		RecordsWrittenTotal: records,
		AttemptDuration:     duration,
	}
}

// IncAttempt counts a started attempt.
func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.AttemptsTotal.Inc()
}

// IncRetry counts a scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncFailure counts a failed attempt by kind.
func (m *Metrics) IncFailure(kind Kind) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(string(kind)).Inc()
}

// IncOutcome counts a finished term by status.
func (m *Metrics) IncOutcome(status Status) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(string(status)).Inc()
}

// AddRecords counts records written to storage.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsWrittenTotal.Add(float64(n))
}

// ObserveAttempt records the duration of one attempt.
func (m *Metrics) ObserveAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptDuration.Observe(d.Seconds())
}
