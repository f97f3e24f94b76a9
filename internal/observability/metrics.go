package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent core.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can be constructed without metrics in tests.
type Metrics struct {
	// TurnCounter counts handled turns by outcome (ok, max_iterations,
	// reasoner_failed, persistence_failed, cancelled, invalid_input).
	TurnCounter *prometheus.CounterVec

	// TurnDuration tracks end-to-end HandleTurn latency.
	TurnDuration *prometheus.HistogramVec

	// LoopIterations tracks how many reasoning rounds a turn needed.
	LoopIterations prometheus.Histogram

	// ReasonerDuration tracks model backend latency per attempt.
	ReasonerDuration *prometheus.HistogramVec

	// ReasonerCounter counts model backend calls by status.
	ReasonerCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool calls by tool and outcome.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration tracks tool latency.
	ToolExecutionDuration *prometheus.HistogramVec

	// StoreOperationDuration tracks message store latency by operation.
	StoreOperationDuration *prometheus.HistogramVec

	// ErrorCounter counts errors by component and type.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundwork_turns_total",
				Help: "Total number of handled turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundwork_turn_duration_seconds",
				Help:    "Duration of HandleTurn in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		LoopIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "groundwork_loop_iterations",
				Help:    "Reasoning iterations per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
			},
		),
		ReasonerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundwork_reasoner_request_duration_seconds",
				Help:    "Duration of model backend requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ReasonerCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundwork_reasoner_requests_total",
				Help: "Total number of model backend requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundwork_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundwork_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundwork_store_operation_duration_seconds",
				Help:    "Duration of message store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "status"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundwork_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(outcome string, iterations int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if iterations > 0 {
		m.LoopIterations.Observe(float64(iterations))
	}
}

// RecordReasonerRequest records one model backend attempt.
func (m *Metrics) RecordReasonerRequest(provider, model, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReasonerCounter.WithLabelValues(provider, model, status).Inc()
	m.ReasonerDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordStoreOperation records one message store call.
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
