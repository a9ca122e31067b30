// Package fetcher retrieves the current on-chain state of an address. Every
// call goes through the shared rate limiter, a per-request timeout, the retry
// policy and the circuit breaker guarding the upstream, and comes back either
// as a normalized addrstate.Snapshot or as one of the typed errors of this
// package.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/breaker"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/retry"
	"github.com/gabapcia/addresswatch/internal/pkg/telemetry"
	"github.com/gabapcia/addresswatch/internal/pkg/validator"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultRequestTimeout = 10 * time.Second

// RawState is what the upstream reports for an address before normalization.
type RawState struct {
	Balances    map[addrstate.Asset]decimal.Decimal
	Nonce       uint64
	BlockNumber uint64
}

// Upstream is the chain data source.
type Upstream interface {
	GetAddressState(ctx context.Context, address string) (RawState, error)
}

// Limiter admits upstream calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Fetcher retrieves normalized snapshots.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (addrstate.Snapshot, error)
}

type service struct {
	upstream       Upstream
	limiter        Limiter
	breaker        *breaker.Breaker
	retry          retry.Retry
	requestTimeout time.Duration
	now            func() time.Time

	fetches  metric.Int64Counter
	duration metric.Float64Histogram
}

var _ Fetcher = (*service)(nil)

type config struct {
	breaker        *breaker.Breaker
	retry          retry.Retry
	requestTimeout time.Duration
	now            func() time.Time
}

// Option configures the fetcher.
type Option func(*config)

// WithBreaker shares b between fetchers of the same upstream. The breaker
// should be built with NewBreaker so permanent errors are not counted.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *config) {
		c.breaker = b
	}
}

// WithRetry sets the retry policy applied inside the breaker.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithRequestTimeout bounds each individual upstream call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		c.requestTimeout = d
	}
}

// WithClock overrides the time source stamped on snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// NewBreaker builds a breaker for an upstream endpoint. Permanent errors
// count as answers and local errors are not outcomes at all. Every
// transition is logged and counted.
func NewBreaker(name string, opts ...breaker.Option) *breaker.Breaker {
	transitions, err := telemetry.Meter().Int64Counter(
		"addresswatch_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		otel.Handle(err)
	}

	onChange := func(from, to breaker.State) {
		ctx := context.Background()
		logger.Warn(ctx, "circuit breaker state changed",
			"breaker.name", name,
			"breaker.from", from.String(),
			"breaker.to", to.String(),
		)
		transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("breaker", name),
			attribute.String("to", to.String()),
		))
	}

	opts = append(opts,
		breaker.WithFailurePredicate(CountsAsFailure),
		breaker.WithIgnorePredicate(IsLocal),
		breaker.WithStateChangeHandler(onChange),
	)
	return breaker.New(name, opts...)
}

// New builds a Fetcher over upstream, throttled by limiter.
func New(upstream Upstream, limiter Limiter, opts ...Option) *service {
	cfg := config{
		requestTimeout: defaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.breaker == nil {
		cfg.breaker = NewBreaker("upstream")
	}
	if cfg.retry == nil {
		cfg.retry = retry.New()
	}

	meter := telemetry.Meter()
	fetches, err := meter.Int64Counter(
		"addresswatch_fetches_total",
		metric.WithDescription("Address state fetches by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	duration, err := meter.Float64Histogram(
		"addresswatch_fetch_duration_seconds",
		metric.WithDescription("Duration of address state fetches, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &service{
		upstream:       upstream,
		limiter:        limiter,
		breaker:        cfg.breaker,
		retry:          cfg.retry,
		requestTimeout: cfg.requestTimeout,
		now:            cfg.now,
		fetches:        fetches,
		duration:       duration,
	}
}

// attempt performs one limiter-gated, time-bounded upstream call.
func (s *service) attempt(ctx context.Context, address string) (RawState, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return RawState{}, err
		}
		return RawState{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	raw, err := s.upstream.GetAddressState(reqCtx, address)
	if err != nil {
		if ctx.Err() != nil {
			return RawState{}, ctx.Err()
		}
		return RawState{}, classify(err)
	}

	return raw, nil
}

// Fetch implements Fetcher.
func (s *service) Fetch(ctx context.Context, address string) (snapshot addrstate.Snapshot, err error) {
	address = addrstate.NormalizeAddress(address)

	ctx, span := telemetry.Tracer().Start(ctx, "fetcher.Fetch", trace.WithAttributes(
		attribute.String("address", address),
	))
	started := time.Now()
	defer func() {
		kind := errorKind(err)
		attrs := metric.WithAttributes(attribute.String("outcome", kind))
		s.fetches.Add(ctx, 1, attrs)
		s.duration.Record(ctx, time.Since(started).Seconds(), attrs)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
	}()

	if err := validator.Var(address, "required,eth_addr"); err != nil {
		return addrstate.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	var raw RawState
	err = s.breaker.Do(ctx, func() error {
		return s.retry.Execute(ctx, func() error {
			var attemptErr error
			raw, attemptErr = s.attempt(ctx, address)
			if IsPermanent(attemptErr) {
				return retry.Permanent(attemptErr)
			}
			return attemptErr
		})
	})
	if err != nil {
		return addrstate.Snapshot{}, err
	}

	return s.normalize(address, raw), nil
}

// normalize turns a raw upstream answer into a snapshot holding every known
// asset, zero balances included.
func (s *service) normalize(address string, raw RawState) addrstate.Snapshot {
	balances := make(map[addrstate.Asset]decimal.Decimal, len(addrstate.Assets))
	for _, asset := range addrstate.Assets {
		balances[asset] = decimal.Zero
	}
	for asset, amount := range raw.Balances {
		balances[asset] = amount
	}

	return addrstate.Snapshot{
		Address:     address,
		Balances:    balances,
		Sequence:    raw.Nonce,
		BlockNumber: raw.BlockNumber,
		FetchedAt:   s.now().UTC(),
	}
}
