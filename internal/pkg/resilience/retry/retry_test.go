package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(opts ...Option) []Option {
	return append([]Option{
		WithDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
	}, opts...)
}

func TestRetry_Execute(t *testing.T) {
	t.Run("successful operation", func(t *testing.T) {
		r := New()
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, callCount, "Operation should be called exactly once")
	})

	t.Run("retry until success", func(t *testing.T) {
		r := New(fast(WithAttempts(3))...)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			if callCount < 2 {
				return errors.New("temporary error")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 2, callCount, "Operation should be called exactly twice")
	})

	t.Run("retry exhausted returns the last error", func(t *testing.T) {
		r := New(fast(WithAttempts(3))...)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			return fmt.Errorf("attempt %d failed", callCount)
		})

		require.Error(t, err)
		assert.EqualError(t, err, "attempt 3 failed")
		assert.Equal(t, 3, callCount, "Operation should be called exactly 3 times")
	})

	t.Run("permanent error stops at the first attempt", func(t *testing.T) {
		r := New(fast(WithAttempts(5))...)
		callCount := 0
		cause := errors.New("invalid address")

		err := r.Execute(t.Context(), func() error {
			callCount++
			return Permanent(cause)
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, callCount)
	})

	t.Run("predicate rejection stops at the first attempt", func(t *testing.T) {
		notFound := errors.New("not found")
		r := New(fast(
			WithAttempts(5),
			WithRetryIf(func(err error) bool { return !errors.Is(err, notFound) }),
		)...)
		callCount := 0

		err := r.Execute(t.Context(), func() error {
			callCount++
			return fmt.Errorf("lookup: %w", notFound)
		})

		assert.ErrorIs(t, err, notFound)
		assert.Equal(t, 1, callCount)
	})

	t.Run("context cancellation interrupts the backoff sleep", func(t *testing.T) {
		r := New(
			WithAttempts(5),
			WithDelay(time.Hour),
			WithMaxDelay(time.Hour),
		)
		callCount := 0

		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		started := time.Now()
		err := r.Execute(ctx, func() error {
			callCount++
			return errors.New("error that would normally trigger retry")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, callCount, "Operation should be called exactly once due to context cancellation")
		assert.Less(t, time.Since(started), time.Second)
	})

	t.Run("on retry callback sees every retryable failure", func(t *testing.T) {
		var seen []error
		r := New(fast(
			WithAttempts(3),
			WithOnRetry(func(_ uint, err error) { seen = append(seen, err) }),
		)...)

		_ = r.Execute(t.Context(), func() error { return errors.New("flaky") })

		assert.NotEmpty(t, seen)
		for _, err := range seen {
			assert.EqualError(t, err, "flaky")
		}
	})
}

func TestRetry_Classify(t *testing.T) {
	r := New().(*retrier)

	t.Run("nil is success", func(t *testing.T) {
		assert.Equal(t, ClassSuccess, r.Classify(nil))
	})

	t.Run("plain errors are retryable", func(t *testing.T) {
		assert.Equal(t, ClassRetryable, r.Classify(errors.New("connection reset")))
		assert.Equal(t, ClassRetryable, r.Classify(context.DeadlineExceeded))
	})

	t.Run("cancellation and permanent errors are permanent", func(t *testing.T) {
		assert.Equal(t, ClassPermanent, r.Classify(context.Canceled))
		assert.Equal(t, ClassPermanent, r.Classify(fmt.Errorf("wrapped: %w", Permanent(errors.New("bad")))))
	})

	t.Run("class names", func(t *testing.T) {
		assert.Equal(t, "success", ClassSuccess.String())
		assert.Equal(t, "retryable", ClassRetryable.String())
		assert.Equal(t, "permanent", ClassPermanent.String())
	})
}

func TestRetry_Backoff(t *testing.T) {
	t.Run("doubles up to the cap without jitter", func(t *testing.T) {
		r := New(
			WithDelay(time.Second),
			WithMaxDelay(60*time.Second),
			WithJitter(false),
		).(*retrier)

		assert.Equal(t, 1*time.Second, r.backoff(0))
		assert.Equal(t, 2*time.Second, r.backoff(1))
		assert.Equal(t, 4*time.Second, r.backoff(2))
		assert.Equal(t, 32*time.Second, r.backoff(5))
		assert.Equal(t, 60*time.Second, r.backoff(6))
		assert.Equal(t, 60*time.Second, r.backoff(40))
	})

	t.Run("jitter keeps the delay within half and full value", func(t *testing.T) {
		r := New(WithDelay(time.Second), WithMaxDelay(60*time.Second)).(*retrier)

		for range 200 {
			d := r.backoff(2)
			assert.GreaterOrEqual(t, d, 2*time.Second)
			assert.Less(t, d, 4*time.Second)
		}
	})
}

func TestRetry_Options(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		r, ok := New().(*retrier)
		require.True(t, ok, "Expected r to be of type *retrier")

		assert.Equal(t, uint(3), r.cfg.attempts)
		assert.Equal(t, 1*time.Second, r.cfg.delay)
		assert.Equal(t, 60*time.Second, r.cfg.maxDelay)
		assert.True(t, r.cfg.jitter)
	})

	t.Run("zero attempts is clamped to one", func(t *testing.T) {
		r, ok := New(WithAttempts(0)).(*retrier)
		require.True(t, ok)

		assert.Equal(t, uint(1), r.cfg.attempts)
	})
}
