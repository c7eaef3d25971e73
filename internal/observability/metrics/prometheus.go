// Package metrics provides Prometheus metrics for the pharmacy portal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-rxportal/pkg/circuitbreaker"
)

// Submission outcomes
const (
	OutcomeSuccess       = "success"
	OutcomeRejected      = "rejected"
	OutcomeUnreachable   = "unreachable"
	OutcomeNotConfigured = "not_configured"
	OutcomeStoreFailed   = "store_failed"
)

// Metrics holds all application metrics
type Metrics struct {
	Submissions         *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	AuditFailures       *prometheus.CounterVec
	OutboxPending       prometheus.Gauge
	OutboxPublished     prometheus.Counter
	OutboxDeadLettered  prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates metrics registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_submissions_total",
			Help: "Form submissions by kind and outcome",
		}, []string{"kind", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bestrx_request_duration_seconds",
			Help:    "BestRX request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		AuditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_audit_failures_total",
			Help: "Audit writes that failed after a successful upstream call",
		}, []string{"kind"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries published to the broker",
		}),
		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Outbox entries moved to the dead letter topic",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.Submissions,
		m.UpstreamDuration,
		m.AuditFailures,
		m.OutboxPending,
		m.OutboxPublished,
		m.OutboxDeadLettered,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveSubmission counts one finished submission. Safe on a nil receiver.
func (m *Metrics) ObserveSubmission(kind, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind, outcome).Inc()
}

// ObserveAuditFailure counts a swallowed audit write failure. Safe on a nil receiver.
func (m *Metrics) ObserveAuditFailure(kind string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(kind).Inc()
}

// BreakerStateChanged is a circuitbreaker.Config OnStateChange hook
func (m *Metrics) BreakerStateChanged(name string, to circuitbreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
