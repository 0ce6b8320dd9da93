package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn lifecycle (started, completed, interrupted) per provider
//   - Model request performance, retries, and token consumption
//   - Tool execution patterns and latencies
//   - History compression events
//   - RPC request rates and event delivery health
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted("primary")
//	defer metrics.TurnCompleted("primary", "completed", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts turns by provider and outcome.
	// Labels: provider (primary|secondary|router), status (completed|interrupted|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	// Labels: provider
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	TurnDuration *prometheus.HistogramVec

	// RoundCounter counts model rounds within turns.
	// Labels: provider, model
	RoundCounter *prometheus.CounterVec

	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// RetryCounter counts retried model requests.
	// Labels: provider
	RetryCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// CompressionCounter counts history compressions.
	// Labels: reason (manual|auto)
	CompressionCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current sessions by state.
	// Labels: state (ready|pending|interrupting)
	ActiveSessions *prometheus.GaugeVec

	// QueuedMessages is a gauge tracking pending queue depth across sessions.
	QueuedMessages prometheus.Gauge

	// RPCRequestCounter counts RPC requests.
	// Labels: method, status (ok|error)
	RPCRequestCounter *prometheus.CounterVec

	// RPCRequestDuration measures RPC handler latency in seconds.
	// Labels: method
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	RPCRequestDuration *prometheus.HistogramVec

	// DroppedEvents counts events discarded because a subscriber was slow.
	// Labels: event
	DroppedEvents *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (runtime|provider|tool|rpc), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are registered with Prometheus's default registry and are
// served by the /metrics endpoint on the gateway listener.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_turns_total",
				Help: "Total number of turns by provider and outcome",
			},
			[]string{"provider", "status"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_turn_duration_seconds",
				Help:    "Duration of full turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),

		RoundCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_rounds_total",
				Help: "Total number of model rounds by provider and model",
			},
			[]string{"provider", "model"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		RetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_retries_total",
				Help: "Total number of retried model requests by provider",
			},
			[]string{"provider"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CompressionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_compressions_total",
				Help: "Total number of history compressions by reason",
			},
			[]string{"reason"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_active_sessions",
				Help: "Current number of sessions by state",
			},
			[]string{"state"},
		),

		QueuedMessages: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_queued_messages",
				Help: "Current number of queued messages across all sessions",
			},
		),

		RPCRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_rpc_requests_total",
				Help: "Total number of RPC requests by method and status",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method"},
		),

		DroppedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_dropped_events_total",
				Help: "Total number of events dropped on slow subscribers",
			},
			[]string{"event"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// TurnStarted records a turn entering the pending state.
func (m *Metrics) TurnStarted(provider string) {
	m.ActiveSessions.WithLabelValues("pending").Inc()
	m.ActiveSessions.WithLabelValues("ready").Dec()
	_ = provider
}

// TurnFinished records a completed, interrupted, or failed turn.
func (m *Metrics) TurnFinished(provider, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(provider, status).Inc()
	m.TurnDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.ActiveSessions.WithLabelValues("pending").Dec()
	m.ActiveSessions.WithLabelValues("ready").Inc()
}

// RecordModelRequest records metrics for a single model API request.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRound counts one model round against a provider and model.
func (m *Metrics) RecordRound(provider, model string) {
	m.RoundCounter.WithLabelValues(provider, model).Inc()
}

// RecordRetry counts one retried model request.
func (m *Metrics) RecordRetry(provider string) {
	m.RetryCounter.WithLabelValues(provider).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompression counts one history compression.
func (m *Metrics) RecordCompression(reason string) {
	m.CompressionCounter.WithLabelValues(reason).Inc()
}

// SessionCreated increments the ready-session gauge.
func (m *Metrics) SessionCreated() {
	m.ActiveSessions.WithLabelValues("ready").Inc()
}

// SetQueueDepth reports the total queued message count.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueuedMessages.Set(float64(n))
}

// RecordRPCRequest records metrics for a dispatched RPC request.
func (m *Metrics) RecordRPCRequest(method, status string, durationSeconds float64) {
	m.RPCRequestCounter.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordDroppedEvent counts an event discarded because of a slow subscriber.
func (m *Metrics) RecordDroppedEvent(event string) {
	m.DroppedEvents.WithLabelValues(event).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
