package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts(maxAttempts int) Options {
	return Options{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := Do(context.Background(), fastOpts(5), func(context.Context) (int, error) {
		calls++
		if calls <= 2 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastOpts(3), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoNeverRetriesTerminalErrors(t *testing.T) {
	t.Parallel()

	opts := fastOpts(5)
	// Even a permissive predicate must not override classification.
	opts.RetryOn = func(error) bool { return true }

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, &apperr.ValidationError{Field: "street", Reason: "required"}
	})

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsRetryOnPredicate(t *testing.T) {
	t.Parallel()

	opts := fastOpts(5)
	opts.RetryOn = func(error) bool { return false }

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCancelableDuringBackoff(t *testing.T) {
	t.Parallel()

	opts := Options{MaxAttempts: 3, BaseDelay: time.Minute, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, opts, func(context.Context) (int, error) {
			return 0, errors.New("always")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestDatabaseProfileRetriesTransientOnly(t *testing.T) {
	t.Parallel()

	opts := Database()
	opts.BaseDelay = time.Millisecond

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, &apperr.TransientStorageError{Op: "checkout", Err: errors.New("deadlock")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("schema drift")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors are not retried under the database profile")
}

func TestWithOverridesNarrowsBudgetOnly(t *testing.T) {
	t.Parallel()

	opts := Payment().With(Overrides{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond})

	assert.Equal(t, 4, opts.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, opts.BaseDelay)
	assert.Equal(t, 5*time.Second, opts.MaxDelay, "zero fields keep the compiled default")
	require.NotNil(t, opts.RetryOn, "overrides must not strip the error classifier")

	calls := 0
	opts.BaseDelay = time.Millisecond
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, &apperr.DependencyTimeoutError{Dependency: "payment", Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "the overridden attempt budget governs execution")
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	opts := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Factor: 2}.normalized()

	assert.Equal(t, 100*time.Millisecond, backoff(opts, 1))
	assert.Equal(t, 200*time.Millisecond, backoff(opts, 2))
	assert.Equal(t, 250*time.Millisecond, backoff(opts, 3))
	assert.Equal(t, 250*time.Millisecond, backoff(opts, 10))
}

func TestBackoffJitterStaysWithinFraction(t *testing.T) {
	t.Parallel()

	opts := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2, Jitter: true, JitterFraction: 0.2}.normalized()

	for i := 0; i < 100; i++ {
		d := backoff(opts, 1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
