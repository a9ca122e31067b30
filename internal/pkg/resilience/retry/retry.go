// Package retry provides a bounded retry mechanism for operations that may
// fail temporarily. It wraps the retry-go package from Avast and exposes a
// small interface configured through functional options.
//
// Every failure is classified before another attempt is made: errors marked
// with Permanent, context cancellation and anything rejected by the
// configured predicate end the loop immediately. Retryable failures are
// retried with exponential backoff and jitter, up to a fixed number of total
// attempts.
//
// Basic usage:
//
//	r := retry.New()
//	err := r.Execute(ctx, func() error {
//	    return someOperation()
//	})
//
// With custom options:
//
//	r := retry.New(
//	    retry.WithAttempts(5),
//	    retry.WithDelay(2*time.Second),
//	    retry.WithMaxDelay(30*time.Second),
//	    retry.WithRetryIf(isTransient),
//	)
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// Class is the outcome of a single attempt.
type Class int

const (
	// ClassSuccess means the attempt returned no error.
	ClassSuccess Class = iota
	// ClassRetryable means the attempt failed and may succeed if repeated.
	ClassRetryable
	// ClassPermanent means repeating the attempt cannot help.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// permanentError marks an error as not worth retrying.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry loop stops at the first occurrence.
// errors.Is and errors.As still see through the wrapper.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry defines the interface for retry operations.
type Retry interface {
	// Execute runs operation until it succeeds, fails permanently, the
	// attempt budget is spent or ctx is done. The backoff sleep between
	// attempts is interrupted by ctx cancellation.
	//
	// The returned error is the error of the last attempt, or the context
	// error when the loop was interrupted while waiting.
	Execute(ctx context.Context, operation func() error) error
}

// config holds internal settings for the retry mechanism.
type config struct {
	attempts uint                          // total number of attempts, including the first
	delay    time.Duration                 // base delay before the first retry
	maxDelay time.Duration                 // cap applied to the exponential growth
	jitter   bool                          // scale each delay into [0.5, 1.0)
	retryIf  func(error) bool              // extra predicate for retryable failures
	onRetry  func(attempt uint, err error) // invoked before each backoff sleep
}

// Option defines a functional option for configuring the retry mechanism.
type Option func(*config)

// retrier implements the Retry interface using the retry-go package.
type retrier struct {
	cfg config
}

// Compile-time assertion that retrier implements Retry interface
var _ Retry = (*retrier)(nil)

// New creates a Retry with the given options.
//
// Default configuration:
//   - attempts: 3 (1 initial attempt + 2 retries)
//   - delay:    1 second, doubling on every retry
//   - maxDelay: 60 seconds
//   - jitter:   enabled
//   - retryIf:  every non-permanent error is retryable
func New(opts ...Option) Retry {
	cfg := config{
		attempts: 3,
		delay:    1 * time.Second,
		maxDelay: 60 * time.Second,
		jitter:   true,
		retryIf:  func(error) bool { return true },
		onRetry:  func(uint, error) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// retry-go treats zero attempts as "retry forever".
	if cfg.attempts == 0 {
		cfg.attempts = 1
	}

	return &retrier{
		cfg: cfg,
	}
}

// Classify maps the result of one attempt to its Class.
func (r *retrier) Classify(err error) Class {
	switch {
	case err == nil:
		return ClassSuccess
	case IsPermanent(err),
		errors.Is(err, context.Canceled),
		!r.cfg.retryIf(err):
		return ClassPermanent
	default:
		return ClassRetryable
	}
}

// backoff returns the sleep before retry number n (starting at zero).
func (r *retrier) backoff(n uint) time.Duration {
	d := r.cfg.delay
	for i := uint(0); i < n && (r.cfg.maxDelay == 0 || d < r.cfg.maxDelay); i++ {
		d *= 2
	}
	if r.cfg.maxDelay > 0 && d > r.cfg.maxDelay {
		d = r.cfg.maxDelay
	}

	if r.cfg.jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}

	return d
}

// Execute implements the Retry interface.
func (r *retrier) Execute(ctx context.Context, operation func() error) error {
	options := []retry.Option{
		retry.Attempts(r.cfg.attempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return r.backoff(n)
		}),
		retry.MaxDelay(r.cfg.maxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return r.Classify(err) == ClassRetryable
		}),
		retry.OnRetry(r.cfg.onRetry),
	}

	return retry.Do(operation, options...)
}

// WithAttempts sets the total number of attempts (including the first one).
// Values below one are treated as one.
func WithAttempts(n uint) Option {
	return func(c *config) {
		c.attempts = n
	}
}

// WithDelay sets the base delay before the first retry.
// With exponential backoff, subsequent delays double.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay caps the exponential growth of the delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithJitter enables or disables the random [0.5, 1.0) scaling of delays.
func WithJitter(enabled bool) Option {
	return func(c *config) {
		c.jitter = enabled
	}
}

// WithRetryIf restricts which errors are retried. Errors for which fn
// returns false are treated as permanent.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		c.retryIf = fn
	}
}

// WithOnRetry registers a callback invoked after every retryable failure,
// before the backoff sleep. attempt starts at zero.
func WithOnRetry(fn func(attempt uint, err error)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}
