package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects request and isolation-unit metrics for the guard and
// runner tiers.
//
// All methods are safe to call on a nil *Metrics, so components can be
// constructed without metrics in tests.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordRequest("guard", "file_read", "ok", time.Since(start).Seconds())
type Metrics struct {
	// RequestCounter counts /run requests by outcome.
	// Labels: tier (guard|runner), tool, outcome (ok|failed|rejected)
	RequestCounter *prometheus.CounterVec

	// RejectionCounter counts requests refused before execution.
	// Labels: tier, kind (unauthorized|forbidden|bad_request|...)
	RejectionCounter *prometheus.CounterVec

	// RequestDuration measures /run handling latency in seconds.
	// Labels: tier, tool
	RequestDuration *prometheus.HistogramVec

	// UnitDuration measures isolation unit lifetime in seconds.
	// Labels: outcome (exited|timeout|spawn_failed|error)
	UnitDuration *prometheus.HistogramVec

	// UnitCleanupFailures counts units whose removal failed.
	UnitCleanupFailures prometheus.Counter

	// UpstreamErrors counts failed guard to runner hops.
	// Labels: reason (unreachable|auth|status|invalid_response)
	UpstreamErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrunner_requests_total",
				Help: "Total number of run requests by tier, tool and outcome",
			},
			[]string{"tier", "tool", "outcome"},
		),

		RejectionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrunner_rejections_total",
				Help: "Total number of run requests rejected by tier and error kind",
			},
			[]string{"tier", "kind"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolrunner_request_duration_seconds",
				Help:    "Duration of run requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 90},
			},
			[]string{"tier", "tool"},
		),

		UnitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolrunner_unit_duration_seconds",
				Help:    "Lifetime of isolation units in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 65},
			},
			[]string{"outcome"},
		),

		UnitCleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolrunner_unit_cleanup_failures_total",
				Help: "Total number of isolation units that could not be removed",
			},
		),

		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrunner_upstream_errors_total",
				Help: "Total number of failed calls from the guard to the runner by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordRequest records a handled /run request.
//
// Example:
//
//	metrics.RecordRequest("runner", "shell_exec", "failed", 1.2)
func (m *Metrics) RecordRequest(tier, tool, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(tier, tool, outcome).Inc()
	m.RequestDuration.WithLabelValues(tier, tool).Observe(durationSeconds)
}

// RecordRejection increments the rejection counter for a tier and error kind.
func (m *Metrics) RecordRejection(tier, kind string) {
	if m == nil {
		return
	}
	m.RejectionCounter.WithLabelValues(tier, kind).Inc()
}

// RecordUnit records the lifetime of one isolation unit.
func (m *Metrics) RecordUnit(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UnitDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// UnitCleanupFailed increments the cleanup failure counter.
func (m *Metrics) UnitCleanupFailed() {
	if m == nil {
		return
	}
	m.UnitCleanupFailures.Inc()
}

// RecordUpstreamError increments the upstream error counter.
func (m *Metrics) RecordUpstreamError(reason string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(reason).Inc()
}
