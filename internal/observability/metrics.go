// Package observability collects Prometheus metrics for the
// interceptor's data plane.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the interceptor's instrument set. Construct one per
// process (or per test) with its own registry; nothing registers
// globally.
type Metrics struct {
	registry *prometheus.Registry

	// EventsJournaled counts journal appends by event kind.
	EventsJournaled *prometheus.CounterVec

	// RPCLatency measures request/response round trips in seconds.
	// Labels: method
	RPCLatency *prometheus.HistogramVec

	// ChaosInjections counts fired chaos effects.
	// Labels: effect (delay|error|corruption)
	ChaosInjections *prometheus.CounterVec

	// StressOutcomes counts classified probe outcomes.
	// Labels: outcome (pass|graceful_fail|crash_or_hang)
	StressOutcomes *prometheus.CounterVec

	// RunsStarted counts run launches by kind.
	RunsStarted *prometheus.CounterVec

	// Subscribers gauges live fan-out subscribers.
	Subscribers prometheus.Gauge
}

// NewMetrics creates a metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsJournaled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcptap_events_journaled_total",
			Help: "Trace events appended to the journal, by kind.",
		}, []string{"kind"}),
		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcptap_rpc_latency_seconds",
			Help:    "Tool-server round-trip latency.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		ChaosInjections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcptap_chaos_injections_total",
			Help: "Chaos effects applied to intercepted requests.",
		}, []string{"effect"}),
		StressOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcptap_stress_outcomes_total",
			Help: "Stress probe outcomes after classification.",
		}, []string{"outcome"}),
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcptap_runs_started_total",
			Help: "Runs started, by kind.",
		}, []string{"kind"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcptap_subscribers",
			Help: "Live fan-out subscribers.",
		}),
	}
}

// Registry exposes the backing registry for /metrics handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
