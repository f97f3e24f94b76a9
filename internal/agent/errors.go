package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxIterations indicates the loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrContextCancelled indicates the turn was cancelled between steps
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNoReasoner indicates the orchestrator was built without a reasoner
	ErrNoReasoner = errors.New("no reasoner configured")

	// ErrNoStore indicates the orchestrator was built without a message store
	ErrNoStore = errors.New("no message store configured")

	// ErrInvalidInput indicates a missing session, user, or text
	ErrInvalidInput = errors.New("invalid turn input")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrRegistrySealed indicates a registration after the catalog was published
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrReasonerUnavailable indicates the model backend failed past retries
	ErrReasonerUnavailable = errors.New("reasoner unavailable")

	// ErrEmptyReasonerOutput indicates the backend returned neither text nor tool calls
	ErrEmptyReasonerOutput = errors.New("reasoner returned no text and no tool calls")

	// ErrHistoryUnavailable indicates the message store could not be read
	ErrHistoryUnavailable = errors.New("history unavailable")

	// ErrNotDurable indicates the response was computed but not recorded
	ErrNotDurable = errors.New("turn not durably recorded")
)

// ToolErrorType categorizes tool execution errors. It is copied into the
// ErrorDescriptor of a failed ToolResponse.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates arguments failed schema validation
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorCancelled indicates the turn was cancelled before or during the call
	ToolErrorCancelled ToolErrorType = "cancelled"

	// ToolErrorNetwork indicates a network error
	ToolErrorNetwork ToolErrorType = "network"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorUnknown indicates an unclassified error
	ToolErrorUnknown ToolErrorType = "unknown"
)

// ToolError is a structured tool failure. The executor never returns it to
// the loop as a Go error; it is folded into a failed ToolResponse.
type ToolError struct {
	// Type categorizes the error
	Type ToolErrorType

	// ToolName is the name of the tool that failed
	ToolName string

	// ToolCallID is the ID of the tool call that failed
	ToolCallID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError classifies cause and returns a ToolError for the named tool.
func NewToolError(toolName string, cause error) *ToolError {
	e := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classifyToolError(cause)
	}
	return e
}

// WithType overrides the classification.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithCallID records the originating tool call.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets the message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func classifyToolError(err error) ToolErrorType {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrContextCancelled):
		return ToolErrorCancelled
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "deadline exceeded") || strings.Contains(errStr, "timeout"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "context canceled"):
		return ToolErrorCancelled
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// TurnErrorCode is the caller-facing classification of a turn-fatal error.
type TurnErrorCode string

const (
	// CodeInvalidInput: the request was rejected before anything was written.
	CodeInvalidInput TurnErrorCode = "invalid_input"

	// CodeHistoryFailed: the message store could not be read.
	CodeHistoryFailed TurnErrorCode = "history_failed"

	// CodeReasonerFailed: the model backend failed permanently or past retries.
	CodeReasonerFailed TurnErrorCode = "reasoner_failed"

	// CodeMaxIterations: the loop hit its iteration limit; a degraded answer
	// was produced and persisted.
	CodeMaxIterations TurnErrorCode = "max_iterations"

	// CodePersistenceFailed: a turn could not be written. The response text
	// may still be returned.
	CodePersistenceFailed TurnErrorCode = "persistence_failed"

	// CodeCancelled: the request was cancelled between steps.
	CodeCancelled TurnErrorCode = "cancelled"
)

// TurnError is returned from HandleTurn for turn-fatal failures.
//
// Its message carries identifiers only, never conversation content, so it
// can be sent to generic error channels.
type TurnError struct {
	Code      TurnErrorCode
	SessionID string
	TurnID    string
	Iteration int
	Cause     error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "turn %s", e.Code)
	if e.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", e.SessionID)
	}
	if e.TurnID != "" {
		fmt.Fprintf(&b, " turn=%s", e.TurnID)
	}
	if e.Iteration > 0 {
		fmt.Fprintf(&b, " iteration=%d", e.Iteration)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", causeSummary(e.Cause))
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}

// causeSummary prefers a sentinel or typed error's own message over an
// arbitrarily wrapped backend message, which may echo request content.
func causeSummary(err error) string {
	var reasonerErr *ReasonerError
	if errors.As(err, &reasonerErr) {
		return reasonerErr.Summary()
	}
	for _, sentinel := range []error{
		ErrMaxIterations,
		ErrContextCancelled,
		ErrReasonerUnavailable,
		ErrEmptyReasonerOutput,
		ErrHistoryUnavailable,
		ErrNotDurable,
		ErrInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

// GetTurnError extracts a TurnError from an error chain.
func GetTurnError(err error) (*TurnError, bool) {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr, true
	}
	return nil, false
}

// ReasonerError wraps a model backend failure with retry bookkeeping.
type ReasonerError struct {
	Provider  string
	Attempts  int
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *ReasonerError) Error() string {
	return fmt.Sprintf("reasoner %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Cause)
}

// Summary describes the failure without the backend's message text.
func (e *ReasonerError) Summary() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("reasoner %s %s failure after %d attempt(s)", e.Provider, kind, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ReasonerError) Unwrap() error {
	return e.Cause
}
