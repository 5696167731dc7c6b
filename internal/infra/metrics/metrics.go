package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	// ModelCalls counts dispatcher attempts.
	// Labels: model, outcome (success|transient|terminal)
	ModelCalls *prometheus.CounterVec

	// ModelCallDuration measures per-attempt model latency in seconds.
	// Labels: model
	ModelCallDuration *prometheus.HistogramVec

	// DispatchExhausted counts logical calls where every candidate failed.
	DispatchExhausted prometheus.Counter

	// ToolCalls counts tool executions.
	// Labels: tool, status (success|error|timeout|cancelled|gated)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// GateHalts counts loops halted on an approval-required action.
	// Labels: action
	GateHalts *prometheus.CounterVec

	// Rounds observes the number of rounds each request used.
	// Labels: tier
	Rounds *prometheus.HistogramVec

	// Requests counts orchestrated requests.
	// Labels: tier, outcome (answer|task|error)
	Requests *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ModelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkie_model_calls_total",
			Help: "Model call attempts by model and outcome",
		}, []string{"model", "outcome"}),
		ModelCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sparkie_model_call_duration_seconds",
			Help:    "Duration of a single model call attempt in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}, []string{"model"}),
		DispatchExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "sparkie_dispatch_exhausted_total",
			Help: "Logical model calls where every candidate failed",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkie_tool_calls_total",
			Help: "Tool executions by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sparkie_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		GateHalts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkie_gate_halts_total",
			Help: "Agent loops halted for approval by action",
		}, []string{"action"}),
		Rounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sparkie_agent_rounds",
			Help:    "Rounds used per request",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"tier"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkie_requests_total",
			Help: "Orchestrated requests by tier and outcome",
		}, []string{"tier", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ModelCall(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(model, outcome).Inc()
	m.ModelCallDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) Exhausted() {
	if m == nil {
		return
	}
	m.DispatchExhausted.Inc()
}

func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) GateHalt(action string) {
	if m == nil {
		return
	}
	m.GateHalts.WithLabelValues(action).Inc()
}

// RequestDone records one finished request.
func (m *Metrics) RequestDone(tier, outcome string, rounds int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(tier, outcome).Inc()
	m.Rounds.WithLabelValues(tier).Observe(float64(rounds))
}
