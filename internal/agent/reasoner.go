package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/groundwork/internal/backoff"
	"github.com/haasonsaas/groundwork/internal/observability"
	"github.com/haasonsaas/groundwork/pkg/models"
)

// RetryConfig bounds retries of transient model backend failures.
type RetryConfig struct {
	// MaxAttempts includes the first call.
	// Default: 5
	MaxAttempts int

	// Policy computes the delay between attempts.
	Policy backoff.BackoffPolicy

	// AttemptTimeout bounds each backend call; a timeout is transient.
	// Default: 60s
	AttemptTimeout time.Duration

	// Retryable classifies backend errors. Nil uses DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns five attempts with the default backoff policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		Policy:         backoff.DefaultPolicy(),
		AttemptTimeout: 60 * time.Second,
	}
}

// retryableError is implemented by backend errors that know their own
// retry classification (providers.ProviderError).
type retryableError interface {
	Retryable() bool
}

// DefaultRetryable treats per-attempt timeouts and self-classified
// transient errors as retryable, and everything else as permanent.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyReasonerOutput) || errors.Is(err, context.Canceled) {
		return false
	}
	var classified retryableError
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryingReasoner wraps a backend Reasoner with bounded exponential backoff
// and output validation.
type RetryingReasoner struct {
	backend Reasoner
	config  RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	newID   func() string
}

// NewRetryingReasoner wraps backend. Zero config fields take defaults.
func NewRetryingReasoner(backend Reasoner, config RetryConfig) *RetryingReasoner {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Policy == (backoff.BackoffPolicy{}) {
		config.Policy = defaults.Policy
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}
	return &RetryingReasoner{
		backend: backend,
		config:  config,
		logger:  observability.NopLogger(),
		newID:   func() string { return "call_" + uuid.NewString() },
	}
}

// WithObservability attaches logging, metrics and tracing.
func (r *RetryingReasoner) WithObservability(logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *RetryingReasoner {
	if logger != nil {
		r.logger = logger
	}
	r.metrics = metrics
	r.tracer = tracer
	return r
}

// Name returns the wrapped backend's name.
func (r *RetryingReasoner) Name() string {
	return r.backend.Name()
}

// Reason calls the backend, retrying transient failures. Exhaustion and
// permanent failures are returned as *ReasonerError.
//
// Each attempt runs detached from caller cancellation under its own
// timeout; cancellation is honoured between attempts.
func (r *RetryingReasoner) Reason(ctx context.Context, req *ReasonRequest) (*ReasonerOutput, error) {
	provider := r.backend.Name()
	model := req.Model

	opts := backoff.Options{
		Policy:      r.config.Policy,
		MaxAttempts: r.config.MaxAttempts,
		Retryable:   r.config.Retryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			r.logger.Warn(ctx, "reasoner attempt failed, retrying",
				"provider", provider,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
		},
	}

	result, err := backoff.Retry(ctx, opts, func(ctx context.Context, attempt int) (*ReasonerOutput, error) {
		attemptCtx, span := r.tracer.TraceReasoner(ctx, provider, model, attempt)
		defer span.End()
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(attemptCtx), r.config.AttemptTimeout)
		defer cancel()

		start := time.Now()
		out, err := r.backend.Reason(attemptCtx, req)
		if err == nil {
			out, err = r.validate(out)
		}
		status := "success"
		if err != nil {
			status = "error"
			observability.RecordError(span, err)
		}
		r.metrics.RecordReasonerRequest(provider, model, status, time.Since(start))
		return out, err
	})
	if err == nil {
		return result.Value, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
	}
	last := result.LastError
	if last == nil {
		last = err
	}
	return nil, &ReasonerError{
		Provider:  provider,
		Attempts:  result.Attempts,
		Retryable: r.config.Retryable(last),
		Cause:     fmt.Errorf("%w: %w", ErrReasonerUnavailable, last),
	}
}

// validate treats backend output as untrusted: every call gets a unique,
// non-empty ID, and an output with neither text nor calls is rejected.
func (r *RetryingReasoner) validate(out *ReasonerOutput) (*ReasonerOutput, error) {
	if out == nil || (out.Text == "" && len(out.ToolCalls) == 0) {
		return nil, backoff.Permanent(ErrEmptyReasonerOutput)
	}
	seen := make(map[string]bool, len(out.ToolCalls))
	calls := make([]models.ToolCall, 0, len(out.ToolCalls))
	for _, call := range out.ToolCalls {
		if call.ID == "" || seen[call.ID] {
			call.ID = r.newID()
		}
		seen[call.ID] = true
		calls = append(calls, call)
	}
	return &ReasonerOutput{Text: out.Text, ToolCalls: calls}, nil
}
