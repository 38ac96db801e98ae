// Package retry provides a generic backoff executor. Each caller domain
// (database, payment, cache, generic API) has a pre-tuned profile; the
// executor itself is policy-free apart from refusing to re-run errors the
// taxonomy classifies as terminal.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
)

type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Factor         float64
	Jitter         bool
	JitterFraction float64
	// RetryOn decides whether a non-terminal error is worth another
	// attempt. Nil means retry everything non-terminal.
	RetryOn func(error) bool
}

// Overrides narrows a profile from configuration without touching its
// error classification. Zero fields keep the profile's compiled default.
type Overrides struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o Options) With(ov Overrides) Options {
	if ov.MaxAttempts > 0 {
		o.MaxAttempts = ov.MaxAttempts
	}
	if ov.BaseDelay > 0 {
		o.BaseDelay = ov.BaseDelay
	}
	if ov.MaxDelay > 0 {
		o.MaxDelay = ov.MaxDelay
	}
	return o
}

func (o Options) normalized() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Factor < 1 {
		o.Factor = 2
	}
	if o.JitterFraction <= 0 {
		o.JitterFraction = 0.2
	}
	return o
}

// Database covers serialization failures, deadlocks, and pool exhaustion.
// Cheap and fast: contention usually clears within tens of milliseconds.
func Database() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Factor:      2,
		Jitter:      true,
		RetryOn:     apperr.Transient,
	}
}

// Payment is deliberately conservative: a duplicate charge is worse than a
// failed one, so only network-level failures are retried.
func Payment() Options {
	return Options{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2,
		Jitter:      true,
		RetryOn: func(err error) bool {
			var de *apperr.DependencyTimeoutError
			return errors.As(err, &de)
		},
	}
}

func Cache() Options {
	return Options{
		MaxAttempts: 2,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		Factor:      2,
		Jitter:      true,
	}
}

// Do runs op up to MaxAttempts times. Terminal errors and errors rejected
// by RetryOn propagate immediately. The backoff sleep respects ctx, so a
// disconnected client does not hold a worker through the remaining delays.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts = opts.normalized()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if apperr.Terminal(err) {
			return zero, err
		}
		if opts.RetryOn != nil && !opts.RetryOn(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleep(ctx, backoff(opts, attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// backoff computes min(MaxDelay, base*factor^(attempt-1)) with optional
// symmetric jitter sampled uniformly from ±JitterFraction.
func backoff(opts Options, attempt int) time.Duration {
	d := float64(opts.BaseDelay) * math.Pow(opts.Factor, float64(attempt-1))
	if opts.MaxDelay > 0 && d > float64(opts.MaxDelay) {
		d = float64(opts.MaxDelay)
	}
	if opts.Jitter {
		d += d * opts.JitterFraction * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
