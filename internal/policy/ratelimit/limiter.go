// Package ratelimit implements the process-wide token bucket that throttles
// page loads.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver receives the time spent waiting for each permit.
type DelayObserver interface {
	ObserveRateLimitDelay(time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	PermitsPerSecond float64
	Burst            int
}

// Limiter is a single token bucket shared by every caller.
type Limiter struct {
	limiter  *rate.Limiter
	observer DelayObserver
}

// New creates a Limiter. A non-positive rate disables throttling.
func New(cfg Config, observer DelayObserver) *Limiter {
	r := rate.Limit(cfg.PermitsPerSecond)
	if cfg.PermitsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:  rate.NewLimiter(r, burst),
		observer: observer,
	}
}

// Wait blocks until a permit is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observer != nil {
		l.observer.ObserveRateLimitDelay(d)
	}
	return nil
}

// Rate returns the configured permits per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}
