package jobs

import (
	"errors"
	"math"
	"time"
)

// BackoffPolicy computes the delay before the next attempt of a failed job.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoffPolicy returns the 30s, 2m, 8m schedule.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:   30 * time.Second,
		Factor: 4,
		Max:    24 * time.Hour,
	}
}

// Delay returns the wait after the given (1-based) attempt failed:
// Base * Factor^(attempt-1), capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	if p.Max > 0 && backoff > float64(p.Max) {
		return p.Max
	}
	return time.Duration(backoff)
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as non-retryable: the job fails on this attempt.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// Retryable marks err as retryable explicitly.
func Retryable(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// IsRetryable checks if an error may succeed on a later attempt.
// Errors that do not say otherwise are retryable.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
