package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mirrors the runtime's in-memory performance data into Prometheus
// so the operational stack sees the same signals the in-process monitors do.
type Metrics struct {
	registry *prometheus.Registry

	// TurnDuration measures one full agent turn in seconds.
	TurnDuration *prometheus.HistogramVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// LLMRequestDuration measures completion provider latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// StreamEventsCounter counts SSE frames written by event name.
	StreamEventsCounter *prometheus.CounterVec

	// ServiceCallDuration measures any monitored service operation.
	// Labels: service, operation, status (success|error)
	ServiceCallDuration *prometheus.HistogramVec
}

// NewMetrics creates all runtime metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
		vec := prometheus.NewHistogramVec(opts, labels)
		registry.MustRegister(vec)
		return vec
	}
	counter := func(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
		vec := prometheus.NewCounterVec(opts, labels)
		registry.MustRegister(vec)
		return vec
	}

	return &Metrics{
		registry: registry,
		TurnDuration: factory(prometheus.HistogramOpts{
			Name:    "operator_turn_duration_seconds",
			Help:    "Duration of one full agent turn in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		ToolExecutionDuration: factory(prometheus.HistogramOpts{
			Name:    "operator_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		ToolExecutionCounter: counter(prometheus.CounterOpts{
			Name: "operator_tool_executions_total",
			Help: "Total tool invocations by tool and status",
		}, []string{"tool", "status"}),
		LLMRequestDuration: factory(prometheus.HistogramOpts{
			Name:    "operator_llm_request_duration_seconds",
			Help:    "Duration of completion provider requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokensUsed: counter(prometheus.CounterOpts{
			Name: "operator_llm_tokens_total",
			Help: "Total tokens used by provider, model, and type",
		}, []string{"provider", "model", "type"}),
		StreamEventsCounter: counter(prometheus.CounterOpts{
			Name: "operator_stream_events_total",
			Help: "Total SSE frames written by event name",
		}, []string{"event"}),
		ServiceCallDuration: factory(prometheus.HistogramOpts{
			Name:    "operator_service_call_duration_seconds",
			Help:    "Duration of monitored service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"service", "operation", "status"}),
	}
}

// ObserveServiceCall records one monitored operation.
func (m *Metrics) ObserveServiceCall(service, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ServiceCallDuration.WithLabelValues(service, operation, status).Observe(duration.Seconds())
}

// ObserveToolExecution records one tool invocation.
func (m *Metrics) ObserveToolExecution(tool, status string, duration time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
