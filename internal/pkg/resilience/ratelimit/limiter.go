// Package ratelimit throttles outbound calls to an upstream with a token
// bucket shared by every caller in the process.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrWaitExceeded is returned when obtaining a token would take longer than
// the configured maximum wait.
var ErrWaitExceeded = errors.New("rate limiter wait exceeds maximum")

type config struct {
	burst   int
	maxWait time.Duration
}

// Option configures a Limiter.
type Option func(*config)

// WithBurst sets the bucket size. With a burst of one, requests are evenly
// spaced and no rolling one-second window holds more than the rate. Larger
// bursts trade that guarantee for lower latency after idle periods.
func WithBurst(n int) Option {
	return func(c *config) {
		c.burst = n
	}
}

// WithMaxWait bounds how long Acquire may block. Zero means unbounded.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) {
		c.maxWait = d
	}
}

// Limiter wraps a token-bucket rate limiter for upstream calls.
type Limiter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// New creates a limiter that admits rps calls per second.
func New(rps float64, opts ...Option) *Limiter {
	cfg := config{
		burst:   1,
		maxWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.burst < 1 {
		cfg.burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), cfg.burst),
		maxWait: cfg.maxWait,
	}
}

// Acquire blocks until one call is permitted, ctx is done or the wait would
// exceed the maximum. Reserve guarantees exactly one token is consumed per
// admitted call; a reservation that is given up is cancelled so its token
// returns to the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r := l.limiter.Reserve()
	if !r.OK() {
		return ErrWaitExceeded
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	if l.maxWait > 0 && delay > l.maxWait {
		r.Cancel()
		return ErrWaitExceeded
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Rate returns the configured number of calls per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}
