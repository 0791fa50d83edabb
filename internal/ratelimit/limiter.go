// Package ratelimit bounds concurrent outbound requests to the source API and
// spaces their start times.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	// DefaultMaxConcurrency is the number of requests allowed in flight.
	DefaultMaxConcurrency = 5
	// DefaultMinGap is the minimum spacing between request starts.
	DefaultMinGap = 200 * time.Millisecond
)

// Limiter admits at most maxConcurrency holders and keeps at least minGap
// between consecutive admissions. Waiters are served in FIFO order.
type Limiter struct {
	maxConcurrency int
	minGap         time.Duration
	clock          clock.Clock

	mu        sync.Mutex
	active    int
	lastStart time.Time
	waiters   []chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(maxConcurrency int, minGap time.Duration, opts ...Option) *Limiter {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if minGap < 0 {
		minGap = DefaultMinGap
	}
	l := &Limiter{
		maxConcurrency: maxConcurrency,
		minGap:         minGap,
		clock:          clock.WallClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is free and the minimum gap since the last
// admitted request has elapsed. It returns ctx.Err() if the context ends
// first; in that case no slot is held.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.maxConcurrency && len(l.waiters) == 0 {
		l.active++
	} else {
		ch := make(chan struct{})
		l.waiters = append(l.waiters, ch)
		l.mu.Unlock()

		select {
		case <-ch:
			// Release handed its slot to us; active was not decremented.
		case <-ctx.Done():
			l.mu.Lock()
			removed := l.removeWaiter(ch)
			l.mu.Unlock()
			if !removed {
				// The slot arrived together with cancellation. Pass it on.
				l.Release()
			}
			return ctx.Err()
		}
		l.mu.Lock()
	}

	// Reserve a start time so consecutive admissions are spaced by minGap
	// even when several callers pass the slot check together.
	now := l.clock.Now()
	start := now
	if !l.lastStart.IsZero() {
		if next := l.lastStart.Add(l.minGap); next.After(now) {
			start = next
		}
	}
	l.lastStart = start
	l.mu.Unlock()

	if wait := start.Sub(now); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			l.Release()
			return err
		}
	}
	return nil
}

// Release frees a slot. If callers are queued, the slot goes directly to the
// longest waiting one.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
		return
	}
	if l.active > 0 {
		l.active--
	}
}

// PauseFor blocks only the calling goroutine for d. Other waiting or active
// callers are unaffected.
func (l *Limiter) PauseFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return l.sleep(ctx, d)
}

// Active returns the number of holders currently admitted.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting returns the number of queued callers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

func (l *Limiter) removeWaiter(ch chan struct{}) bool {
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
