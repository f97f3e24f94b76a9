package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/pkg/models"
	"github.com/sourcegraph/conc/pool"
)

// ExecutionMode selects how the tool calls of one reasoner output are run.
type ExecutionMode string

const (
	// ExecutionConcurrent runs calls in parallel, bounded by MaxConcurrency,
	// and joins on all of them.
	ExecutionConcurrent ExecutionMode = "concurrent"

	// ExecutionSequential runs calls one at a time in request order, for
	// retrieval backends with global rate limits.
	ExecutionSequential ExecutionMode = "sequential"
)

// ExecutorConfig configures tool execution.
type ExecutorConfig struct {
	// Mode is concurrent or sequential.
	// Default: concurrent
	Mode ExecutionMode

	// MaxConcurrency bounds parallel calls in concurrent mode.
	// Default: 4
	MaxConcurrency int

	// Timeout bounds each tool call. A timed-out call becomes a failed
	// response; tools are never retried automatically.
	// Default: 30s
	Timeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Mode:           ExecutionConcurrent,
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

func sanitizeExecutorConfig(cfg ExecutorConfig) ExecutorConfig {
	defaults := DefaultExecutorConfig()
	if cfg.Mode != ExecutionSequential {
		cfg.Mode = ExecutionConcurrent
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return cfg
}

// Executor resolves, validates and runs tool calls, normalizing every outcome
// into a ToolResponse. A failure in one call never affects its siblings.
type Executor struct {
	registry *ToolRegistry
	config   ExecutorConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	statsMu sync.Mutex
	stats   ExecutorStats
}

// ExecutorStats are cumulative in-process counters.
type ExecutorStats struct {
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *ToolRegistry, config ExecutorConfig) *Executor {
	return &Executor{
		registry: registry,
		config:   sanitizeExecutorConfig(config),
		logger:   observability.NopLogger(),
	}
}

// WithObservability attaches logging, metrics and tracing.
func (e *Executor) WithObservability(logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Executor {
	if logger != nil {
		e.logger = logger
	}
	e.metrics = metrics
	e.tracer = tracer
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() ExecutorConfig {
	return e.config
}

// ExecuteAll runs calls and returns one response per call, in call order.
// It returns only after every call has finished.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResponse {
	if len(calls) == 0 {
		return nil
	}
	responses := make([]models.ToolResponse, len(calls))

	if e.config.Mode == ExecutionSequential || len(calls) == 1 {
		for i, call := range calls {
			responses[i] = e.Execute(ctx, call)
		}
		return responses
	}

	p := pool.New().WithMaxGoroutines(e.config.MaxConcurrency)
	for i, call := range calls {
		p.Go(func() {
			responses[i] = e.Execute(ctx, call)
		})
	}
	p.Wait()
	return responses
}

// Execute runs a single call. It never returns a Go error: unknown tools,
// schema violations, timeouts, tool errors and panics all become a
// ToolResponse with OK=false.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResponse {
	start := time.Now()
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	var (
		result *ToolResult
		err    error
	)
	if ctx.Err() != nil {
		err = NewToolError(call.Name, ErrContextCancelled).WithType(ToolErrorCancelled).WithCallID(call.ID)
	} else {
		result, err = e.run(ctx, call)
	}

	resp := e.normalize(call, result, err)
	status := "success"
	if !resp.OK {
		status = "error"
		observability.RecordError(span, err)
	}
	e.record(resp, err)
	e.metrics.RecordToolExecution(call.Name, status, time.Since(start))
	return resp
}

func (e *Executor) run(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	tool, err := e.registry.Lookup(call.Name)
	if err != nil {
		return nil, NewToolError(call.Name, err).WithType(ToolErrorNotFound).WithCallID(call.ID)
	}
	if err := e.registry.Validate(call.Name, call.Arguments); err != nil {
		return nil, NewToolError(call.Name, err).WithType(ToolErrorInvalidInput).WithCallID(call.ID)
	}
	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage(`{}`)
	}
	return e.executeWithTimeout(ctx, tool, call.ID, args)
}

// executeWithTimeout runs the tool in its own goroutine so a tool that
// ignores its context cannot block the turn past the timeout.
//
// An in-flight call is detached from caller cancellation and allowed to
// finish or time out; the loop stops at the next step boundary instead.
func (e *Executor) executeWithTimeout(ctx context.Context, tool Tool, callID string, args json.RawMessage) (*ToolResult, error) {
	timeout := e.config.Timeout
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewToolError(tool.Name(), fmt.Errorf("%w: %v", ErrToolPanic, r)).
					WithType(ToolErrorPanic).
					WithCallID(callID)
				e.logger.Error(ctx, "tool panicked",
					"tool", tool.Name(),
					"tool_call_id", callID,
					"stack", string(debug.Stack()),
				)
				resultCh <- execResult{err: err}
			}
		}()
		result, err := tool.Execute(execCtx, args)
		if err != nil {
			toolErr, ok := GetToolError(err)
			if !ok {
				toolErr = NewToolError(tool.Name(), err)
			}
			resultCh <- execResult{err: toolErr.WithCallID(callID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		return nil, NewToolError(tool.Name(), ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithCallID(callID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

func (e *Executor) normalize(call models.ToolCall, result *ToolResult, err error) models.ToolResponse {
	resp := models.ToolResponse{
		CallID:   call.ID,
		ToolName: call.Name,
	}

	if err == nil && result == nil {
		result = &ToolResult{Records: []models.FactRecord{}}
	}
	if err == nil && result.IsError {
		err = NewToolError(call.Name, errors.New(result.Content)).WithType(ToolErrorExecution).WithCallID(call.ID)
	}
	if err != nil {
		toolErr, ok := GetToolError(err)
		if !ok {
			toolErr = NewToolError(call.Name, err)
		}
		resp.Content = encodeErrorDescriptor(toolErr)
		return resp
	}

	resp.OK = true
	resp.Content = encodeSuccess(result)
	return resp
}

func encodeSuccess(result *ToolResult) json.RawMessage {
	if result.Records != nil || result.Content == "" {
		records := result.Records
		if records == nil {
			records = []models.FactRecord{}
		}
		data, err := json.Marshal(records)
		if err == nil {
			return data
		}
	}
	if json.Valid([]byte(result.Content)) {
		return json.RawMessage(result.Content)
	}
	data, _ := json.Marshal(result.Content)
	return data
}

func encodeErrorDescriptor(toolErr *ToolError) json.RawMessage {
	message := toolErr.Message
	if message == "" && toolErr.Cause != nil {
		message = toolErr.Cause.Error()
	}
	data, err := json.Marshal(models.ErrorDescriptor{
		Type:    string(toolErr.Type),
		Message: message,
	})
	if err != nil {
		return json.RawMessage(`{"type":"unknown","message":"unencodable tool error"}`)
	}
	return data
}

func (e *Executor) record(resp models.ToolResponse, err error) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.TotalExecutions++
	if resp.OK {
		return
	}
	e.stats.TotalFailures++
	if toolErr, ok := GetToolError(err); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.stats.TotalTimeouts++
		case ToolErrorPanic:
			e.stats.TotalPanics++
		}
	}
}

// Stats returns a snapshot of the cumulative counters.
func (e *Executor) Stats() ExecutorStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}
