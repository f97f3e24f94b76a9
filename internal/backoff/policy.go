// Package backoff provides exponential backoff with jitter and a bounded retry
// helper used around calls to model backends.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for exponential backoff calculation.
type BackoffPolicy struct {
	// InitialMs is the backoff after the first failed attempt, in milliseconds.
	InitialMs float64
	// MaxMs caps any single backoff, in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// ComputeBackoff calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand is ComputeBackoff with a caller-provided random value
// in [0.0, 1.0), for deterministic tests.
//
// base = initialMs * factor^(attempt-1); total = min(maxMs, base + base*jitter*random).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	policy = policy.normalized()
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns the policy used for model backend retries.
// Initial: 500ms, Max: 30s, Factor: 2, Jitter: 10%
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 500,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// PolicyFromDurations builds a policy from configuration durations, keeping
// the default factor and jitter. Non-positive values fall back to defaults.
func PolicyFromDurations(initial, maxDelay time.Duration) BackoffPolicy {
	policy := DefaultPolicy()
	if initial > 0 {
		policy.InitialMs = float64(initial.Milliseconds())
	}
	if maxDelay > 0 {
		policy.MaxMs = float64(maxDelay.Milliseconds())
	}
	if policy.MaxMs < policy.InitialMs {
		policy.MaxMs = policy.InitialMs
	}
	return policy
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.InitialMs < 0 {
		p.InitialMs = 0
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.MaxMs <= 0 {
		p.MaxMs = math.MaxFloat64
	}
	return p
}
