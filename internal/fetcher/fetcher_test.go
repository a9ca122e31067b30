package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/breaker"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/ratelimit"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/retry"
	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"
	"github.com/gabapcia/addresswatch/internal/pkg/transport/jsonrpc"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("error")
}

const address = "0x8ba1f109551bd432803012645ac136ddd64dba72"

type upstreamFunc func(ctx context.Context, address string) (RawState, error)

func (f upstreamFunc) GetAddressState(ctx context.Context, address string) (RawState, error) {
	return f(ctx, address)
}

type countingUpstream struct {
	calls atomic.Int32
	fn    upstreamFunc
}

func (u *countingUpstream) GetAddressState(ctx context.Context, address string) (RawState, error) {
	u.calls.Add(1)
	return u.fn(ctx, address)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func healthy(_ context.Context, _ string) (RawState, error) {
	return RawState{
		Balances: map[addrstate.Asset]decimal.Decimal{
			addrstate.AssetUSDC: decimal.RequireFromString("150.5"),
		},
		Nonce:       12,
		BlockNumber: 9000,
	}, nil
}

func failWith(err error) upstreamFunc {
	return func(context.Context, string) (RawState, error) { return RawState{}, err }
}

type fixture struct {
	upstream *countingUpstream
	breaker  *breaker.Breaker
	clock    *clock
	fetcher  *service
}

func newFixture(fn upstreamFunc, opts ...Option) *fixture {
	c := &clock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	u := &countingUpstream{fn: fn}
	b := NewBreaker("test",
		breaker.WithFailureThreshold(5),
		breaker.WithCooldown(60*time.Second),
		breaker.WithClock(c.Now),
	)

	opts = append([]Option{
		WithBreaker(b),
		WithRetry(retry.New(
			retry.WithAttempts(3),
			retry.WithDelay(time.Millisecond),
			retry.WithMaxDelay(2*time.Millisecond),
		)),
		WithClock(c.Now),
		WithRequestTimeout(time.Second),
	}, opts...)

	return &fixture{
		upstream: u,
		breaker:  b,
		clock:    c,
		fetcher:  New(u, ratelimit.New(10_000, ratelimit.WithBurst(100)), opts...),
	}
}

func TestFetch_Success(t *testing.T) {
	f := newFixture(healthy)

	snapshot, err := f.fetcher.Fetch(t.Context(), "0x8BA1F109551BD432803012645AC136DDD64DBA72")
	require.NoError(t, err)

	assert.Equal(t, address, snapshot.Address)
	assert.Equal(t, uint64(12), snapshot.Sequence)
	assert.Equal(t, uint64(9000), snapshot.BlockNumber)
	assert.Equal(t, f.clock.Now(), snapshot.FetchedAt)
	require.Len(t, snapshot.Balances, 2, "every known asset must be present")
	assert.True(t, snapshot.Balance(addrstate.AssetUSDC).Equal(decimal.RequireFromString("150.5")))
	assert.True(t, snapshot.Balance(addrstate.AssetHYPE).IsZero())
}

func TestFetch_InvalidAddress(t *testing.T) {
	f := newFixture(healthy)

	_, err := f.fetcher.Fetch(t.Context(), "0x1234")

	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.True(t, IsPermanent(err))
	assert.Zero(t, f.upstream.calls.Load(), "malformed addresses never reach the upstream")
}

func TestFetch_Retries(t *testing.T) {
	t.Run("transient failures are retried until success", func(t *testing.T) {
		var calls atomic.Int32
		f := newFixture(func(ctx context.Context, addr string) (RawState, error) {
			if calls.Add(1) < 3 {
				return RawState{}, &transporthttp.StatusError{StatusCode: http.StatusBadGateway}
			}
			return healthy(ctx, addr)
		})

		_, err := f.fetcher.Fetch(t.Context(), address)

		require.NoError(t, err)
		assert.Equal(t, int32(3), f.upstream.calls.Load())
		assert.Zero(t, f.breaker.Snapshot().ConsecutiveFailures)
	})

	t.Run("exhausted retries count once against the breaker", func(t *testing.T) {
		f := newFixture(failWith(&transporthttp.StatusError{StatusCode: http.StatusServiceUnavailable}))

		_, err := f.fetcher.Fetch(t.Context(), address)

		assert.ErrorIs(t, err, ErrUpstream)
		assert.False(t, IsPermanent(err))
		assert.Equal(t, int32(3), f.upstream.calls.Load())
		assert.Equal(t, 1, f.breaker.Snapshot().ConsecutiveFailures)
	})

	t.Run("permanent failures are not retried and not counted", func(t *testing.T) {
		f := newFixture(failWith(&transporthttp.StatusError{StatusCode: http.StatusNotFound}))

		_, err := f.fetcher.Fetch(t.Context(), address)

		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, int32(1), f.upstream.calls.Load())
		assert.Equal(t, breaker.StateClosed, f.breaker.State())
		assert.Zero(t, f.breaker.Snapshot().ConsecutiveFailures)
	})

	t.Run("request timeout maps to ErrTimeout", func(t *testing.T) {
		f := newFixture(func(ctx context.Context, _ string) (RawState, error) {
			<-ctx.Done()
			return RawState{}, ctx.Err()
		}, WithRequestTimeout(10*time.Millisecond))

		_, err := f.fetcher.Fetch(t.Context(), address)

		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, int32(3), f.upstream.calls.Load())
	})

	t.Run("caller cancellation stops immediately", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		f := newFixture(func(context.Context, string) (RawState, error) {
			cancel()
			return RawState{}, errors.New("connection reset")
		})

		_, err := f.fetcher.Fetch(ctx, address)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), f.upstream.calls.Load())
		assert.Zero(t, f.breaker.Snapshot().ConsecutiveFailures)
	})
}

func TestFetch_Breaker(t *testing.T) {
	t.Run("three consecutive timeouts keep the breaker closed", func(t *testing.T) {
		f := newFixture(func(ctx context.Context, _ string) (RawState, error) {
			<-ctx.Done()
			return RawState{}, ctx.Err()
		}, WithRequestTimeout(5*time.Millisecond))

		for range 3 {
			_, err := f.fetcher.Fetch(t.Context(), address)
			assert.ErrorIs(t, err, ErrTimeout)
		}

		assert.Equal(t, breaker.StateClosed, f.breaker.State())
		assert.Equal(t, 3, f.breaker.Snapshot().ConsecutiveFailures)
	})

	t.Run("opens after five failures, fails fast, then recovers through a probe", func(t *testing.T) {
		var down atomic.Bool
		down.Store(true)
		f := newFixture(func(ctx context.Context, addr string) (RawState, error) {
			if down.Load() {
				return RawState{}, errors.New("connection refused")
			}
			return healthy(ctx, addr)
		})

		for range 5 {
			_, err := f.fetcher.Fetch(t.Context(), address)
			assert.ErrorIs(t, err, ErrUpstream)
		}
		require.Equal(t, breaker.StateOpen, f.breaker.State())

		calls := f.upstream.calls.Load()
		_, err := f.fetcher.Fetch(t.Context(), address)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, calls, f.upstream.calls.Load(), "open breaker must not call the upstream")

		down.Store(false)
		f.clock.Advance(60 * time.Second)

		_, err = f.fetcher.Fetch(t.Context(), address)
		require.NoError(t, err)
		assert.Equal(t, breaker.StateClosed, f.breaker.State())
	})
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want error
	}{
		{"429", &transporthttp.StatusError{StatusCode: http.StatusTooManyRequests}, ErrRateLimited},
		{"404", &transporthttp.StatusError{StatusCode: http.StatusNotFound}, ErrNotFound},
		{"401", &transporthttp.StatusError{StatusCode: http.StatusUnauthorized}, ErrUnauthorized},
		{"400", &transporthttp.StatusError{StatusCode: http.StatusBadRequest}, ErrInvalidAddress},
		{"504", &transporthttp.StatusError{StatusCode: http.StatusGatewayTimeout}, ErrTimeout},
		{"500", &transporthttp.StatusError{StatusCode: http.StatusInternalServerError}, ErrUpstream},
		{"rpc invalid params", &jsonrpc.ProviderError{Code: -32602}, ErrInvalidAddress},
		{"rpc limit exceeded", &jsonrpc.ProviderError{Code: -32005}, ErrRateLimited},
		{"rpc internal", &jsonrpc.ProviderError{Code: -32603}, ErrUpstream},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"other", errors.New("unexpected EOF"), ErrUpstream},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err)

			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err, "the original error stays in the chain")
		})
	}
}

func TestCountsAsFailure(t *testing.T) {
	assert.True(t, CountsAsFailure(classify(errors.New("reset"))))
	assert.True(t, CountsAsFailure(classify(&transporthttp.StatusError{StatusCode: http.StatusTooManyRequests})))
	assert.False(t, CountsAsFailure(nil))
	assert.False(t, CountsAsFailure(classify(&transporthttp.StatusError{StatusCode: http.StatusNotFound})))
	assert.False(t, CountsAsFailure(classify(&transporthttp.StatusError{StatusCode: http.StatusForbidden})))
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal(context.Canceled))
	assert.True(t, IsLocal(fmt.Errorf("%w: %w", ErrRateLimited, ratelimit.ErrWaitExceeded)))
	assert.False(t, IsLocal(nil))
	assert.False(t, IsLocal(classify(&transporthttp.StatusError{StatusCode: http.StatusTooManyRequests})))
	assert.False(t, IsLocal(classify(context.DeadlineExceeded)), "upstream timeouts are outcomes")
}

// switchLimiter admits calls until throttled is set.
type switchLimiter struct {
	throttled atomic.Bool
}

func (l *switchLimiter) Acquire(context.Context) error {
	if l.throttled.Load() {
		return ratelimit.ErrWaitExceeded
	}
	return nil
}

func TestFetch_LocalThrottling(t *testing.T) {
	badGateway := &transporthttp.StatusError{StatusCode: http.StatusBadGateway}

	t.Run("does not reset the consecutive upstream failures", func(t *testing.T) {
		f := newFixture(failWith(badGateway), WithRetry(retry.New(retry.WithAttempts(1))))
		limiter := &switchLimiter{}
		f.fetcher.limiter = limiter

		for range 4 {
			_, err := f.fetcher.Fetch(t.Context(), address)
			assert.ErrorIs(t, err, ErrUpstream)
		}

		limiter.throttled.Store(true)
		_, err := f.fetcher.Fetch(t.Context(), address)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 4, f.breaker.Snapshot().ConsecutiveFailures)

		limiter.throttled.Store(false)
		_, err = f.fetcher.Fetch(t.Context(), address)
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Equal(t, breaker.StateOpen, f.breaker.State())
	})

	t.Run("a throttled half-open call does not close the breaker", func(t *testing.T) {
		var down atomic.Bool
		down.Store(true)
		f := newFixture(func(ctx context.Context, addr string) (RawState, error) {
			if down.Load() {
				return RawState{}, badGateway
			}
			return healthy(ctx, addr)
		}, WithRetry(retry.New(retry.WithAttempts(1))))
		limiter := &switchLimiter{}
		f.fetcher.limiter = limiter

		for range 5 {
			_, _ = f.fetcher.Fetch(t.Context(), address)
		}
		require.Equal(t, breaker.StateOpen, f.breaker.State())
		calls := f.upstream.calls.Load()

		f.clock.Advance(60 * time.Second)
		limiter.throttled.Store(true)
		_, err := f.fetcher.Fetch(t.Context(), address)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, calls, f.upstream.calls.Load())
		assert.NotEqual(t, breaker.StateClosed, f.breaker.State())

		limiter.throttled.Store(false)
		down.Store(false)
		_, err = f.fetcher.Fetch(t.Context(), address)
		require.NoError(t, err)
		assert.Equal(t, breaker.StateClosed, f.breaker.State())
	})
}
