// Package retry re-runs failed operations with capped exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/juju/clock"

	"github.com/johndauphine/tg-migrate/internal/logging"
)

// Options controls the backoff schedule.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
	// OnRetry is called before each sleep. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultOptions returns 3 retries, 1s base, 30s cap and 500ms jitter.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     500 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt (0-based):
// min(base*2^attempt + uniform(0, jitter), max).
func Backoff(opts Options, attempt int, rnd *rand.Rand) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := opts.BaseDelay * time.Duration(1<<attempt)
	if opts.Jitter > 0 {
		if rnd != nil {
			d += time.Duration(rnd.Int63n(int64(opts.Jitter)))
		} else {
			d += time.Duration(rand.Int63n(int64(opts.Jitter)))
		}
	}
	if opts.MaxDelay > 0 && (d > opts.MaxDelay || d < 0) {
		d = opts.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds or MaxRetries retries are used up, returning
// the last error. Every error is retried. label names the operation in logs.
func Do(ctx context.Context, opts Options, label string, fn func(ctx context.Context) error) error {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= opts.MaxRetries {
			return err
		}

		delay := Backoff(opts, attempt, nil)
		logging.Warn("Retry %d/%d for %s after %v (error: %v)", attempt+1, opts.MaxRetries, label, delay, err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, delay, err)
		}

		if delay > 0 {
			timer := clk.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.Chan():
			}
		}
	}
}
