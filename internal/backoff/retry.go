package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Retry stops immediately. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked as permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// RetryResult reports how a Retry call went.
type RetryResult[T any] struct {
	Value T

	// Attempts counts calls to fn, starting at 1.
	Attempts int

	// LastError is fn's last error; nil after a success.
	LastError error

	// Duration includes the sleeps between attempts.
	Duration time.Duration
}

// Options tunes a Retry call.
type Options struct {
	Policy BackoffPolicy

	// MaxAttempts includes the first call. Values below 1 mean 1.
	MaxAttempts int

	// Retryable filters non-permanent errors. Nil retries all of them.
	Retryable func(error) bool

	// OnRetry runs before the sleep that precedes attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls fn until it succeeds or a stop condition holds: a permanent
// or non-retryable error, a done context, or MaxAttempts calls.
//
// Exhaustion returns an error matching both ErrMaxAttemptsExhausted and
// fn's last error. Permanent errors come back without their marker.
func Retry[T any](ctx context.Context, opts Options, fn func(ctx context.Context, attempt int) (T, error)) (RetryResult[T], error) {
	start := time.Now()
	var result RetryResult[T]
	stop := func(err error) (RetryResult[T], error) {
		result.Duration = time.Since(start)
		return result, err
	}

	limit := max(opts.MaxAttempts, 1)
	for result.Attempts < limit {
		if err := ctx.Err(); err != nil {
			if result.LastError == nil {
				result.LastError = err
			}
			return stop(err)
		}
		result.Attempts++

		value, err := fn(ctx, result.Attempts)
		result.LastError = err
		if err == nil {
			result.Value = value
			return stop(nil)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return stop(perm.Err)
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return stop(err)
		}
		if result.Attempts == limit {
			break
		}

		delay := ComputeBackoff(opts.Policy, result.Attempts)
		if opts.OnRetry != nil {
			opts.OnRetry(result.Attempts, delay, err)
		}
		if err := SleepWithContext(ctx, delay); err != nil {
			return stop(err)
		}
	}
	return stop(errors.Join(ErrMaxAttemptsExhausted, result.LastError))
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
