package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds per-URL fetch retries with exponential backoff and
// jitter.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// errPermanent wraps errors that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn, retrying retryable failures up to MaxRetries. The last error
// is returned once the budget is exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	initial := p.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := initial << (attempt - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			// Full jitter keeps concurrent retries from thundering.
			delay = time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
