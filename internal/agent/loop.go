package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/internal/sessions"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// DefaultSystemPrompt instructs the model to ground answers in retrieved facts.
const DefaultSystemPrompt = `You are a clinical knowledge assistant. When a question depends on ` +
	`guidelines, protocols or reference material, call retrieve_knowledge_base and base your ` +
	`answer on the returned facts, citing their sources. If the knowledge base has nothing ` +
	`relevant, say so instead of guessing. Answer directly when no retrieval is needed.`

// Default caller-facing texts for degraded outcomes.
const (
	DefaultDegradedResponse = "I'm sorry, I was unable to complete this request."
	DefaultFailureResponse  = "I'm sorry, something went wrong while generating a response. Please try again."
)

// LoopState is a state of the per-turn orchestration state machine.
type LoopState string

const (
	StateAwaitingReasoning LoopState = "AWAITING_REASONING"
	StateToolsRequested    LoopState = "TOOLS_REQUESTED"
	StateExecutingTools    LoopState = "EXECUTING_TOOLS"
	StateFinalized         LoopState = "FINALIZED"
)

func (s LoopState) String() string {
	return string(s)
}

// LoopConfig configures the orchestration loop.
type LoopConfig struct {
	// MaxIterations limits reasoner invocations per turn.
	// Default: 5
	MaxIterations int

	// HistoryLimit bounds the context window in turns, including the new
	// user turn.
	// Default: 20
	HistoryLimit int

	// MaxTokens is passed to the reasoner.
	// Default: 4096
	MaxTokens int

	// Model selects the backend model. Empty uses the backend default.
	Model string

	// SystemPrompt is sent on every reasoner invocation.
	// Default: DefaultSystemPrompt
	SystemPrompt string

	// PersistTimeout bounds each message store write. Writes are detached
	// from caller cancellation.
	// Default: 10s
	PersistTimeout time.Duration

	// DegradedResponse is returned and persisted when MaxIterations is hit.
	DegradedResponse string

	// FailureResponse is returned when the reasoner fails.
	FailureResponse string

	// Executor configures tool execution.
	Executor ExecutorConfig
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:    5,
		HistoryLimit:     DefaultHistoryLimit,
		MaxTokens:        4096,
		SystemPrompt:     DefaultSystemPrompt,
		PersistTimeout:   10 * time.Second,
		DegradedResponse: DefaultDegradedResponse,
		FailureResponse:  DefaultFailureResponse,
		Executor:         DefaultExecutorConfig(),
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaults.PersistTimeout
	}
	if cfg.DegradedResponse == "" {
		cfg.DegradedResponse = defaults.DegradedResponse
	}
	if cfg.FailureResponse == "" {
		cfg.FailureResponse = defaults.FailureResponse
	}
	cfg.Executor = sanitizeExecutorConfig(cfg.Executor)
	return cfg
}

// TurnResult is the outcome of HandleTurn.
type TurnResult struct {
	// ResponseText is the answer shown to the user. It is set for
	// successful, degraded and not-durable turns.
	ResponseText string

	// TurnID identifies the AGENT turn. It is assigned before the loop runs
	// so logs correlate even when nothing was persisted; Durable reports
	// whether a turn with this ID was written.
	TurnID string

	// UserTurnID identifies the persisted USER turn, if any.
	UserTurnID string

	// Durable is true when the AGENT turn was written to the store.
	Durable bool

	// Iterations is the number of reasoner invocations.
	Iterations int

	// ToolCalls is the number of tool calls issued during the turn.
	ToolCalls int

	// Err is set for turn-fatal outcomes.
	Err *TurnError
}

// Orchestrator runs the per-turn state machine:
//
//	AWAITING_REASONING ──no tool calls──────────────────────▶ FINALIZED
//	        │                                                    ▲
//	        │ tool calls                          max iterations │
//	        ▼                                                    │
//	TOOLS_REQUESTED ──▶ EXECUTING_TOOLS ──▶ AWAITING_REASONING ──┘
//
// Within a turn every step is sequential; only the tool calls of a single
// reasoner output may run concurrently, and the loop joins on all of them.
// The Orchestrator holds no per-session state, so independent sessions may
// call HandleTurn concurrently.
type Orchestrator struct {
	reasoner Reasoner
	registry *ToolRegistry
	executor *Executor
	store    sessions.Store
	history  *HistoryLoader
	config   LoopConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithIDGenerator overrides turn and tool-call ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// NewOrchestrator wires the loop. The registry is sealed: the catalog is
// read-only from here on.
func NewOrchestrator(reasoner Reasoner, registry *ToolRegistry, store sessions.Store, config LoopConfig, opts ...Option) (*Orchestrator, error) {
	if reasoner == nil {
		return nil, ErrNoReasoner
	}
	if store == nil {
		return nil, ErrNoStore
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	registry.Seal()

	o := &Orchestrator{
		reasoner: reasoner,
		registry: registry,
		store:    store,
		config:   sanitizeLoopConfig(config),
		logger:   observability.NopLogger(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.history = NewHistoryLoader(store, o.logger)
	o.executor = NewExecutor(registry, o.config.Executor).WithObservability(o.logger, o.metrics, o.tracer)
	return o, nil
}

// Config returns the effective loop configuration.
func (o *Orchestrator) Config() LoopConfig {
	return o.config
}

// turnRun is the mutable state of one HandleTurn call.
type turnRun struct {
	sessionID string
	userID    string
	turnID    string
	state     LoopState
	iteration int
	messages  []models.Message
	pending   []models.ToolCall
	calls     []models.ToolCall
	responses []models.ToolResponse
	callIDs   map[string]bool
	finalText string
	exceeded  bool
}

// HandleTurn runs one user turn to completion and returns the response.
//
// The USER turn is persisted first, then the context window is loaded
// (including that turn), then the state machine runs until FINALIZED, and
// finally one AGENT turn holding the final text and every tool call and
// response of the turn is written in a single append.
//
// The returned error is nil or a *TurnError equal to result.Err. The result
// is never nil.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userID, userText string) (*TurnResult, error) {
	start := time.Now()
	run := &turnRun{
		sessionID: sessionID,
		userID:    userID,
		turnID:    o.newID(),
		state:     StateAwaitingReasoning,
		callIDs:   make(map[string]bool),
	}
	ctx = observability.AddSessionID(ctx, sessionID)
	ctx = observability.AddUserID(ctx, userID)
	ctx = observability.AddTurnID(ctx, run.turnID)
	ctx, span := o.tracer.TraceTurn(ctx, sessionID, run.turnID)
	defer span.End()

	result := &TurnResult{TurnID: run.turnID}
	finish := func(turnErr *TurnError) (*TurnResult, error) {
		result.Iterations = run.iteration
		result.ToolCalls = len(run.calls)
		outcome := "ok"
		if turnErr != nil {
			outcome = string(turnErr.Code)
			result.Err = turnErr
			observability.RecordError(span, turnErr)
			o.metrics.RecordError("agent", outcome)
			o.logger.Error(ctx, "turn failed",
				"code", outcome,
				"iteration", run.iteration,
				"tool_calls", len(run.calls),
				"durable", result.Durable,
				"cause", causeSummary(turnErr.Cause),
			)
		}
		o.metrics.RecordTurn(outcome, run.iteration, time.Since(start))
		if turnErr != nil {
			return result, turnErr
		}
		return result, nil
	}

	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(userText) == "" {
		return finish(o.turnError(run, CodeInvalidInput, ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return finish(o.turnError(run, CodeCancelled, fmt.Errorf("%w: %w", ErrContextCancelled, err)))
	}

	userTurn, err := o.appendTurn(ctx, &models.Turn{
		SessionID: sessionID,
		UserID:    userID,
		Actor:     models.ActorUser,
		Text:      userText,
	})
	if err != nil {
		return finish(o.turnError(run, CodePersistenceFailed, fmt.Errorf("%w: %w", ErrNotDurable, err)))
	}
	result.UserTurnID = userTurn.ID

	if err := ctx.Err(); err != nil {
		return finish(o.turnError(run, CodeCancelled, fmt.Errorf("%w: %w", ErrContextCancelled, err)))
	}
	messages, err := o.history.LoadMessages(ctx, sessionID, o.config.HistoryLimit)
	if err != nil {
		return finish(o.turnError(run, CodeHistoryFailed, err))
	}
	run.messages = messages

	for run.state != StateFinalized {
		if turnErr := o.step(ctx, run); turnErr != nil {
			if turnErr.Code == CodeReasonerFailed {
				result.ResponseText = o.config.FailureResponse
			}
			return finish(turnErr)
		}
	}

	return finish(o.finalize(ctx, run, result))
}

// step performs the work of the current state and transitions. A non-nil
// return ends the turn without writing an AGENT turn.
func (o *Orchestrator) step(ctx context.Context, run *turnRun) *TurnError {
	switch run.state {
	case StateAwaitingReasoning:
		if run.iteration >= o.config.MaxIterations {
			run.exceeded = true
			o.transition(ctx, run, StateFinalized)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return o.turnError(run, CodeCancelled, fmt.Errorf("%w: %w", ErrContextCancelled, err))
		}

		run.iteration++
		out, err := o.reasoner.Reason(ctx, &ReasonRequest{
			Model:     o.config.Model,
			System:    o.config.SystemPrompt,
			Messages:  run.messages,
			Tools:     o.registry.Definitions(),
			MaxTokens: o.config.MaxTokens,
		})
		if err != nil {
			if errors.Is(err, ErrContextCancelled) || errors.Is(err, context.Canceled) {
				return o.turnError(run, CodeCancelled, err)
			}
			return o.turnError(run, CodeReasonerFailed, err)
		}
		if out == nil || (out.Text == "" && len(out.ToolCalls) == 0) {
			return o.turnError(run, CodeReasonerFailed, ErrEmptyReasonerOutput)
		}

		if !out.HasToolCalls() {
			run.finalText = out.Text
			o.transition(ctx, run, StateFinalized)
			return nil
		}

		calls := o.uniqueCalls(run, out.ToolCalls)
		run.pending = calls
		run.calls = append(run.calls, calls...)
		run.messages = append(run.messages, assistantMessage(out.Text, calls))
		o.transition(ctx, run, StateToolsRequested)
		return nil

	case StateToolsRequested:
		if err := ctx.Err(); err != nil {
			return o.turnError(run, CodeCancelled, fmt.Errorf("%w: %w", ErrContextCancelled, err))
		}
		o.transition(ctx, run, StateExecutingTools)
		return nil

	case StateExecutingTools:
		responses := o.executor.ExecuteAll(ctx, run.pending)
		run.responses = append(run.responses, responses...)
		run.messages = append(run.messages, toolMessages(responses)...)
		run.pending = nil
		o.transition(ctx, run, StateAwaitingReasoning)
		return nil
	}

	return o.turnError(run, CodeReasonerFailed, fmt.Errorf("unknown loop state %q", run.state))
}

func (o *Orchestrator) transition(ctx context.Context, run *turnRun, next LoopState) {
	o.logger.Debug(ctx, "loop transition",
		"from", run.state.String(),
		"to", next.String(),
		"iteration", run.iteration,
	)
	run.state = next
}

// uniqueCalls keeps call IDs unique across the whole turn so every
// response correlates with exactly one call.
func (o *Orchestrator) uniqueCalls(run *turnRun, calls []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" || run.callIDs[call.ID] {
			call.ID = "call_" + o.newID()
		}
		run.callIDs[call.ID] = true
		out[i] = call
	}
	return out
}

// finalize writes the AGENT turn. Degraded turns are persisted too.
func (o *Orchestrator) finalize(ctx context.Context, run *turnRun, result *TurnResult) *TurnError {
	text := run.finalText
	if run.exceeded {
		text = o.config.DegradedResponse
	}
	result.ResponseText = text

	turn := &models.Turn{
		ID:            run.turnID,
		SessionID:     run.sessionID,
		UserID:        run.userID,
		Actor:         models.ActorAgent,
		Text:          text,
		ToolCalls:     run.calls,
		ToolResponses: run.responses,
		Metadata: map[string]any{
			"iterations": run.iteration,
			"degraded":   run.exceeded,
		},
	}
	if err := models.ValidateCorrelation(turn); err != nil {
		return o.turnError(run, CodePersistenceFailed, fmt.Errorf("%w: %w", ErrNotDurable, err))
	}

	if _, err := o.appendTurn(ctx, turn); err != nil {
		return o.turnError(run, CodePersistenceFailed, fmt.Errorf("%w: %w", ErrNotDurable, err))
	}
	result.Durable = true

	if run.exceeded {
		return o.turnError(run, CodeMaxIterations, ErrMaxIterations)
	}
	return nil
}

// appendTurn writes one turn, detached from caller cancellation so a
// finalized turn is never abandoned halfway.
func (o *Orchestrator) appendTurn(ctx context.Context, turn *models.Turn) (*models.Turn, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.PersistTimeout)
	defer cancel()

	start := time.Now()
	stored, err := o.store.Append(writeCtx, turn.SessionID, turn)
	o.metrics.RecordStoreOperation("append", err, time.Since(start))
	return stored, err
}

func (o *Orchestrator) turnError(run *turnRun, code TurnErrorCode, cause error) *TurnError {
	return &TurnError{
		Code:      code,
		SessionID: run.sessionID,
		TurnID:    run.turnID,
		Iteration: run.iteration,
		Cause:     cause,
	}
}
