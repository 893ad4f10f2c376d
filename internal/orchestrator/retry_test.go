package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxRetries: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("upstream 503")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxRetries: 5, Initial: time.Millisecond}
	cause := errors.New("http 404")
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return Permanent(cause)
	})
	require.Equal(t, 1, calls)
	// The wrapper is stripped before the error reaches the caller.
	require.Equal(t, cause, err)
}

func TestRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxRetries: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	cause := errors.New("connection reset")
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 10, Initial: time.Hour}
	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("upstream 502")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestPermanentNilPassthrough(t *testing.T) {
	t.Parallel()
	require.NoError(t, Permanent(nil))
}
