package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when a provider is missing credentials.
var ErrNotConfigured = errors.New("provider not configured")

// ErrorReason categorizes why a backend call failed. Retry and failover
// decisions key off it.
type ErrorReason string

const (
	ReasonBilling          ErrorReason = "billing"
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonAuth             ErrorReason = "auth"
	ReasonTimeout          ErrorReason = "timeout"
	ReasonServerError      ErrorReason = "server_error"
	ReasonInvalidRequest   ErrorReason = "invalid_request"
	ReasonModelUnavailable ErrorReason = "model_unavailable"
	ReasonContentFilter    ErrorReason = "content_filter"
	ReasonCancelled        ErrorReason = "cancelled"
	ReasonUnknown          ErrorReason = "unknown"
)

// IsRetryable reports whether repeating the same request may succeed.
func (r ErrorReason) IsRetryable() bool {
	return r == ReasonRateLimit || r == ReasonTimeout || r == ReasonServerError
}

// ProviderError is a classified failure from a model backend. Message is
// provider text and is never logged by the agent, which surfaces only
// Reason, Provider and Status.
type ProviderError struct {
	Reason    ErrorReason
	Provider  string
	Model     string
	Status    int    // HTTP status, 0 when not applicable
	Code      string // provider-specific error code
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Reason)
	field := func(format string, v any) { b.WriteByte(' '); fmt.Fprintf(&b, format, v) }
	if e.Provider != "" {
		field("%s", e.Provider)
	}
	if e.Model != "" {
		field("model=%s", e.Model)
	}
	if e.Status != 0 {
		field("status=%d", e.Status)
	}
	if e.Code != "" {
		field("code=%s", e.Code)
	}
	switch {
	case e.Message != "":
		field("%s", e.Message)
	case e.Cause != nil:
		field("%s", e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the agent should retry the request.
func (e *ProviderError) Retryable() bool {
	return e.Reason.IsRetryable()
}

// ShouldFailover reports whether a different backend might succeed.
// Invalid requests and filtered content fail the same way everywhere.
func (e *ProviderError) ShouldFailover() bool {
	switch e.Reason {
	case ReasonBilling, ReasonAuth, ReasonModelUnavailable, ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// NewProviderError creates a new ProviderError classified from cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}

	return err
}

// WithStatus adds HTTP status to the error and reclassifies if needed.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// messageHints maps substrings of lower-cased error text to reasons. Earlier
// entries win.
var messageHints = []struct {
	reason ErrorReason
	hints  []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests", "throttl", "resource_exhausted", "429"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "permission_denied", "401", "403"}},
	{ReasonBilling, []string{"billing", "payment", "quota", "insufficient", "402"}},
	{ReasonContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{ReasonModelUnavailable, []string{"model not found", "model_not_found", "does not exist"}},
	{ReasonServerError, []string{"internal server", "server error", "unavailable", "overloaded", "connection reset",
		"connection refused", "500", "502", "503", "504", "529"}},
}

// errorCodes maps lower-cased provider error codes (OpenAI, Anthropic,
// Gemini and Bedrock spellings) to reasons.
var errorCodes = map[string]ErrorReason{
	"rate_limit_error":            ReasonRateLimit,
	"rate_limit_exceeded":         ReasonRateLimit,
	"throttlingexception":         ReasonRateLimit,
	"resource_exhausted":          ReasonRateLimit,
	"authentication_error":        ReasonAuth,
	"invalid_api_key":             ReasonAuth,
	"accessdeniedexception":       ReasonAuth,
	"permission_denied":           ReasonAuth,
	"unauthenticated":             ReasonAuth,
	"billing_error":               ReasonBilling,
	"insufficient_quota":          ReasonBilling,
	"model_not_found":             ReasonModelUnavailable,
	"model_not_available":         ReasonModelUnavailable,
	"resourcenotfoundexception":   ReasonModelUnavailable,
	"not_found":                   ReasonModelUnavailable,
	"content_policy_violation":    ReasonContentFilter,
	"content_filter":              ReasonContentFilter,
	"server_error":                ReasonServerError,
	"internal_error":              ReasonServerError,
	"overloaded_error":            ReasonServerError,
	"api_error":                   ReasonServerError,
	"internalserverexception":     ReasonServerError,
	"serviceunavailableexception": ReasonServerError,
	"modelnotreadyexception":      ReasonServerError,
	"unavailable":                 ReasonServerError,
	"modeltimeoutexception":       ReasonTimeout,
	"deadline_exceeded":           ReasonTimeout,
	"invalid_request_error":       ReasonInvalidRequest,
	"validationexception":         ReasonInvalidRequest,
	"invalid_argument":            ReasonInvalidRequest,
}

// ClassifyError derives a reason from context sentinels and, failing that,
// from the error text.
func ClassifyError(err error) ErrorReason {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	text := strings.ToLower(err.Error())
	for _, entry := range messageHints {
		for _, hint := range entry.hints {
			if strings.Contains(text, hint) {
				return entry.reason
			}
		}
	}
	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuth
	case http.StatusPaymentRequired:
		return ReasonBilling
	case http.StatusTooManyRequests:
		return ReasonRateLimit
	case http.StatusRequestTimeout:
		return ReasonTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case http.StatusNotFound:
		return ReasonModelUnavailable
	}
	if status >= 500 {
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyErrorCode(code string) ErrorReason {
	if reason, ok := errorCodes[strings.ToLower(code)]; ok {
		return reason
	}
	return ReasonUnknown
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Retryable()
	}
	return ClassifyError(err).IsRetryable()
}

// wrapError normalizes a backend error. Caller cancellation passes through
// unchanged so the agent can tell it apart from backend failures.
func wrapError(provider, model string, err error, status int, code string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	providerErr := NewProviderError(provider, model, err)
	if status != 0 {
		providerErr.WithStatus(status)
	}
	if code != "" {
		providerErr.WithCode(code)
	}
	return providerErr
}
