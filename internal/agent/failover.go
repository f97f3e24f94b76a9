package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/groundwork/internal/observability"
)

// FailoverConfig configures the circuit breaker of a FailoverReasoner.
type FailoverConfig struct {
	// CircuitBreakerThreshold is the number of consecutive failures before a
	// backend is skipped.
	// Default: 3
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an open circuit skips its backend.
	// Default: 30s
	CircuitBreakerTimeout time.Duration
}

// DefaultFailoverConfig returns the default circuit breaker settings.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// BackendState tracks the health of one backend.
type BackendState struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

func (s *BackendState) available(cfg FailoverConfig, now time.Time) bool {
	return !s.CircuitOpen || now.Sub(s.CircuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FailoverStats counts failover activity.
type FailoverStats struct {
	Requests        int64
	Failovers       int64
	CircuitBreaks   int64
	BackendFailures map[string]int64
}

// failoverClassifier is implemented by backend errors that know whether
// another backend might succeed (providers.ProviderError).
type failoverClassifier interface {
	ShouldFailover() bool
}

// FailoverReasoner tries backends in order, moving to the next one when a
// backend fails in a way another backend could survive. Each backend is
// usually a RetryingReasoner, so retries happen before failover.
type FailoverReasoner struct {
	backends []Reasoner
	config   FailoverConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu     sync.Mutex
	states map[int]*BackendState
	stats  FailoverStats
}

// NewFailoverReasoner returns a reasoner that prefers primary and falls back
// to fallbacks in order. Zero config fields take defaults.
func NewFailoverReasoner(primary Reasoner, fallbacks []Reasoner, config FailoverConfig) *FailoverReasoner {
	defaults := DefaultFailoverConfig()
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = defaults.CircuitBreakerThreshold
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = defaults.CircuitBreakerTimeout
	}
	backends := append([]Reasoner{primary}, fallbacks...)
	states := make(map[int]*BackendState, len(backends))
	for i, b := range backends {
		states[i] = &BackendState{Name: b.Name()}
	}
	return &FailoverReasoner{
		backends: backends,
		config:   config,
		logger:   observability.NopLogger(),
		now:      time.Now,
		states:   states,
		stats:    FailoverStats{BackendFailures: make(map[string]int64)},
	}
}

// WithObservability attaches logging and metrics.
func (f *FailoverReasoner) WithObservability(logger *observability.Logger, metrics *observability.Metrics) *FailoverReasoner {
	if logger != nil {
		f.logger = logger
	}
	f.metrics = metrics
	return f
}

// Name lists the backends in preference order.
func (f *FailoverReasoner) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return "failover:" + strings.Join(names, ",")
}

// Reason implements Reasoner. When every backend fails or is skipped, the
// last backend error is returned.
func (f *FailoverReasoner) Reason(ctx context.Context, req *ReasonRequest) (*ReasonerOutput, error) {
	f.mu.Lock()
	f.stats.Requests++
	f.mu.Unlock()

	var lastErr error
	for i, backend := range f.backends {
		if !f.available(i) {
			continue
		}
		out, err := backend.Reason(ctx, req)
		if err == nil {
			f.recordSuccess(i)
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrContextCancelled) {
			return nil, err
		}
		f.recordFailure(i)
		if !shouldFailover(err) {
			return nil, err
		}
		if i < len(f.backends)-1 {
			f.mu.Lock()
			f.stats.Failovers++
			f.mu.Unlock()
			f.metrics.RecordError("reasoner", "failover")
			f.logger.Warn(ctx, "reasoner backend failed, failing over",
				"from", backend.Name(),
				"to", f.backends[i+1].Name(),
				"cause", causeSummary(err),
			)
		}
	}
	if lastErr == nil {
		lastErr = &ReasonerError{Provider: f.Name(), Cause: fmt.Errorf("%w: every backend circuit is open", ErrReasonerUnavailable)}
	}
	return nil, lastErr
}

// shouldFailover reports whether another backend might succeed where this
// one failed: exhausted transient failures, or errors the backend itself
// classifies as backend-specific such as auth or billing.
func shouldFailover(err error) bool {
	var classified failoverClassifier
	if errors.As(err, &classified) {
		return classified.ShouldFailover()
	}
	var reasonerErr *ReasonerError
	if errors.As(err, &reasonerErr) {
		return reasonerErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (f *FailoverReasoner) available(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[i].available(f.config, f.now())
}

func (f *FailoverReasoner) recordSuccess(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[i].Failures = 0
	f.states[i].CircuitOpen = false
}

func (f *FailoverReasoner) recordFailure(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[i]
	now := f.now()
	state.Failures++
	state.LastFailure = now
	f.stats.BackendFailures[state.Name]++
	if state.Failures >= f.config.CircuitBreakerThreshold && (!state.CircuitOpen || now.Sub(state.CircuitOpenAt) > f.config.CircuitBreakerTimeout) {
		state.CircuitOpen = true
		state.CircuitOpenAt = now
		f.stats.CircuitBreaks++
	}
}

// Stats returns a snapshot of failover activity.
func (f *FailoverReasoner) Stats() FailoverStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	failures := make(map[string]int64, len(f.stats.BackendFailures))
	for k, v := range f.stats.BackendFailures {
		failures[k] = v
	}
	s := f.stats
	s.BackendFailures = failures
	return s
}

// BackendStates returns the state of every backend in preference order.
func (f *FailoverReasoner) BackendStates() []BackendState {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make([]BackendState, len(f.backends))
	for i := range f.backends {
		states[i] = *f.states[i]
	}
	return states
}

// ResetCircuitBreakers closes every circuit.
func (f *FailoverReasoner) ResetCircuitBreakers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, state := range f.states {
		state.Failures = 0
		state.CircuitOpen = false
	}
}
