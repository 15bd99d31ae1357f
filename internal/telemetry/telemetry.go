// Package telemetry wires OpenTelemetry export alongside a lightweight
// in-process counter struct, mirroring the teacher's observability/otel +
// observability/metrics split: OTel handles export, the counter struct
// answers the synchronous /v1/ops/metrics JSON snapshot.
package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	otelinit "private-db-agent/observability/otel"
)

// Config controls whether/how OTel exporters are wired.
type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	Metrics     bool
	Traces      bool
}

// Init configures the global OpenTelemetry providers, returning a shutdown
// function for graceful teardown.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	return otelinit.Init(ctx, otelinit.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Endpoint,
		Insecure:    cfg.Insecure,
		Headers:     cfg.Headers,
		Metrics:     cfg.Metrics,
		Traces:      cfg.Traces,
	})
}

// Metrics holds the Prometheus instruments this service exports plus the
// in-process counters served synchronously at /v1/ops/metrics.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	auditFailures   prometheus.Counter
	requestDuration *prometheus.HistogramVec

	snapshot *counterSnapshot
}

var (
	once     sync.Once
	registry *Metrics
)

// New builds the Metrics registry, registering its instruments with the
// default Prometheus registerer exactly once per process.
func New() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "private_db_agent_decisions_total",
				Help: "Count of pipeline decisions by stage, code, and outcome.",
			}, []string{"stage", "code", "outcome"}),
			auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "private_db_agent_audit_write_failures_total",
				Help: "Count of audit sink append failures.",
			}),
			requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "private_db_agent_request_duration_seconds",
				Help:    "Request pipeline duration by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			snapshot: newCounterSnapshot(),
		}
		prometheus.MustRegister(registry.decisionsTotal, registry.auditFailures, registry.requestDuration)
	})
	return registry
}

// RecordDecision increments both the Prometheus counter and the in-process
// snapshot for one pipeline decision.
func (m *Metrics) RecordDecision(stage, code, outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(stage, code, outcome).Inc()
	m.snapshot.recordDecision(stage, code, outcome)
}

// RecordAuditFailure records one AUDIT_WRITE_FAILED outcome.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
	m.snapshot.recordAuditFailure()
}

// ObserveRequestDuration records how long route took to process, in
// seconds.
func (m *Metrics) ObserveRequestDuration(route string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route).Observe(seconds)
	m.snapshot.recordDuration(route, seconds)
}

// Snapshot returns the JSON-serializable counters for GET /v1/ops/metrics.
func (m *Metrics) Snapshot() Counters {
	return m.snapshot.read()
}
