// Package metrics centralizes the runtime's Prometheus collectors in one
// struct, each field registered through promauto at construction time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the runtime exports. Construct one with
// New and thread it through the components that need it; there is no
// package-global registry beyond the one promauto registers into.
type Metrics struct {
	// RunsTotal counts Agent Loop runs by terminal outcome.
	// Labels: stoppedReason (Done|Failed|Cancelled|BudgetExhausted|DepthExceeded)
	RunsTotal *prometheus.CounterVec

	// RunDuration measures wall-clock time per agentloop.Loop.Run call.
	RunDuration *prometheus.HistogramVec

	// ToolCallsTotal counts dispatches by tool name and outcome.
	ToolCallsTotal *prometheus.CounterVec

	// ToolDuration measures per-call executor latency.
	ToolDuration *prometheus.HistogramVec

	// BrainTokens tracks input/output token consumption.
	BrainTokens *prometheus.CounterVec

	// CircuitState exposes each breaker's current state as a gauge
	// (0=Closed, 1=HalfOpen, 2=Open) for dashboards and alerting.
	CircuitState *prometheus.GaugeVec

	// ScheduleFires counts scheduler fires by outcome.
	ScheduleFires *prometheus.CounterVec

	// GatewaySessions is a gauge of currently-running Gateway sessions.
	GatewaySessions prometheus.Gauge

	// MemoryOps counts Memory Service operations by kind and outcome.
	MemoryOps *prometheus.CounterVec
}

// New registers and returns the runtime's collectors against reg. Pass
// prometheus.NewRegistry() for test isolation or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentruntime",
			Subsystem: "loop",
			Name:      "runs_total",
			Help:      "Agent Loop runs by stopped reason.",
		}, []string{"stopped_reason"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentruntime",
			Subsystem: "loop",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of an Agent Loop run.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"success"}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentruntime",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool dispatches by name and outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentruntime",
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Tool executor duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		BrainTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentruntime",
			Subsystem: "brain",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentruntime",
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit breaker state (0=Closed,1=HalfOpen,2=Open).",
		}, []string{"upstream"}),
		ScheduleFires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentruntime",
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Schedule fires by outcome.",
		}, []string{"schedule_id", "outcome"}),
		GatewaySessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentruntime",
			Subsystem: "gateway",
			Name:      "sessions_running",
			Help:      "Currently running Gateway-owned sessions.",
		}),
		MemoryOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentruntime",
			Subsystem: "memory",
			Name:      "ops_total",
			Help:      "Memory Service operations by kind and outcome.",
		}, []string{"op", "status"}),
	}
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
