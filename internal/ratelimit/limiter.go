// Package ratelimit paces transaction submission at a target rate.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter issues permits no faster than the target rate, measured from the
// previous permit. A caller that overran the interval gets its permit
// immediately and the schedule restarts from that moment: missed permits
// are never made up with a burst.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration

	now func() time.Time
}

// New creates a new Limiter with the specified rate (permits per second).
// Non-positive rates fall back to 1/s. The first permit is immediate.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 || math.IsNaN(ratePerSec) || math.IsInf(ratePerSec, 0) {
		ratePerSec = 1
	}
	return &Limiter{
		interval: time.Duration(float64(time.Second) / ratePerSec),
		now:      time.Now,
	}
}

// reserve claims the next permit at or after now and advances the schedule.
func (l *Limiter) reserve(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	permit := l.nextPermitTime
	if permit.Before(now) {
		permit = now
	}
	l.nextPermitTime = permit.Add(l.interval)
	return permit
}

// release hands back an unused permit if no later one was issued.
func (l *Limiter) release(permit time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nextPermitTime.Equal(permit.Add(l.interval)) {
		l.nextPermitTime = permit
	}
}

// Wait blocks until a permit is available or the context is cancelled.
// A cancelled wait gives its permit back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	permit := l.reserve(l.now())
	wait := permit.Sub(l.now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.release(permit)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
