// Package metrics defines the Prometheus instruments the daemon exports.
//
// Instruments are registered against an explicit Registerer so tests can
// use a private registry. Every method is safe on a nil *Metrics, which
// lets components run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stride"

// Attempt outcomes recorded by the dispatcher.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics holds the daemon's Prometheus instruments.
type Metrics struct {
	registry prometheus.Gatherer

	stageDuration       *prometheus.HistogramVec
	claims              prometheus.Counter
	attempts            *prometheus.CounterVec
	reclaimed           prometheus.Counter
	telemetryFailures   prometheus.Counter
	sessionsSubmitted   prometheus.Counter
	queueEntries        *prometheus.GaugeVec
	maintenanceRuns     *prometheus.CounterVec
	maintenanceDuration *prometheus.HistogramVec
	diskFreeBytes       prometheus.Gauge
}

// New registers the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the instruments on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: gatherer,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages by stage and result.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"stage", "result"}),
		claims: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_claims_total",
			Help:      "Queue entries claimed by the dispatcher.",
		}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Dispatcher attempts by outcome.",
		}, []string{"outcome"}),
		reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_reclaimed_total",
			Help:      "Processing entries returned to pending after a stale heartbeat.",
		}),
		telemetryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_failures_total",
			Help:      "Telemetry forwards that failed without failing the session.",
		}),
		sessionsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_submitted_total",
			Help:      "Sessions accepted through intake.",
		}),
		queueEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_entries",
			Help:      "Queue entries by status at the last health check.",
		}, []string{"status"}),
		maintenanceRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance task runs by task and result.",
		}, []string{"task", "result"}),
		maintenanceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "maintenance_duration_seconds",
			Help:      "Maintenance task run duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		diskFreeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_dir_free_bytes",
			Help:      "Free bytes on the data directory filesystem at the last health check.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// IncClaims counts a successful claim.
func (m *Metrics) IncClaims() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

// IncAttempt counts one finished attempt by outcome.
func (m *Metrics) IncAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// AddReclaimed counts entries reclaimed from stale heartbeats.
func (m *Metrics) AddReclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}

// IncTelemetryFailure counts a non-fatal telemetry failure.
func (m *Metrics) IncTelemetryFailure() {
	if m == nil {
		return
	}
	m.telemetryFailures.Inc()
}

// IncSubmitted counts an accepted intake.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.sessionsSubmitted.Inc()
}

// SetQueueEntries publishes the latest queue counts.
func (m *Metrics) SetQueueEntries(byStatus map[string]int) {
	if m == nil {
		return
	}
	for status, count := range byStatus {
		m.queueEntries.WithLabelValues(status).Set(float64(count))
	}
}

// SetDiskFree publishes free bytes on the data directory filesystem.
func (m *Metrics) SetDiskFree(bytes uint64) {
	if m == nil {
		return
	}
	m.diskFreeBytes.Set(float64(bytes))
}

// ObserveMaintenance records one maintenance run.
func (m *Metrics) ObserveMaintenance(task string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.maintenanceRuns.WithLabelValues(task, result).Inc()
	m.maintenanceDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}
