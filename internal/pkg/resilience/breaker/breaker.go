// Package breaker implements a circuit breaker that stops calls to an
// upstream after a run of consecutive failures and lets a single probe
// through once the cooldown has elapsed.
//
// State machine:
//
//	closed    --K consecutive failures-->            open
//	open      --cooldown elapsed, next call-->       half-open (one probe admitted)
//	half-open --probe succeeds-->                    closed (cooldown reset)
//	half-open --probe fails-->                       open (cooldown x factor, capped)
//
// A Breaker is safe for concurrent use; every transition happens under a
// single mutex so concurrent callers never observe a torn state.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, rejecting calls
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastFailureAt       time.Time
	OpenedAt            time.Time
	NextAttemptAt       time.Time
	Cooldown            time.Duration
}

type config struct {
	failureThreshold int
	cooldown         time.Duration
	backoffFactor    float64
	maxCooldown      time.Duration
	isFailure        func(error) bool
	isIgnored        func(error) bool
	onStateChange    func(from, to State)
	now              func() time.Time
}

// Option configures a Breaker.
type Option func(*config)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *config) {
		c.failureThreshold = n
	}
}

// WithCooldown sets the base time the breaker stays open before a probe.
func WithCooldown(d time.Duration) Option {
	return func(c *config) {
		c.cooldown = d
	}
}

// WithBackoffFactor sets the multiplier applied to the cooldown after a failed probe.
func WithBackoffFactor(f float64) Option {
	return func(c *config) {
		c.backoffFactor = f
	}
}

// WithMaxCooldown caps the cooldown growth.
func WithMaxCooldown(d time.Duration) Option {
	return func(c *config) {
		c.maxCooldown = d
	}
}

// WithFailurePredicate decides which errors returned from Do count as
// failures. Errors for which fn returns false are recorded as successes:
// the upstream answered, it just answered with a definitive rejection.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(c *config) {
		c.isFailure = fn
	}
}

// WithIgnorePredicate marks errors that are not an outcome of the upstream,
// such as a local limiter giving up. They neither count as failures nor
// reset the failure count, and an ignored probe frees the half-open slot.
// It takes precedence over WithFailurePredicate.
func WithIgnorePredicate(fn func(error) bool) Option {
	return func(c *config) {
		c.isIgnored = fn
	}
}

// WithStateChangeHandler registers fn to be called on every transition.
// fn runs with the breaker lock held and must not call back into the breaker.
func WithStateChangeHandler(fn func(from, to State)) Option {
	return func(c *config) {
		c.onStateChange = fn
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name string
	cfg  config

	mu            sync.Mutex
	state         State
	failures      int
	cooldown      time.Duration
	lastFailureAt time.Time
	openedAt      time.Time
	nextAttemptAt time.Time
	probing       bool
	generation    uint64
}

// New creates a closed Breaker. name identifies the protected upstream.
//
// Defaults: threshold 5, cooldown 60s, backoff factor 2, max cooldown 10m,
// every non-nil error is a failure and none is ignored.
func New(name string, opts ...Option) *Breaker {
	cfg := config{
		failureThreshold: 5,
		cooldown:         60 * time.Second,
		backoffFactor:    2,
		maxCooldown:      10 * time.Minute,
		isFailure:        func(err error) bool { return err != nil },
		isIgnored:        func(error) bool { return false },
		onStateChange:    func(State, State) {},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.failureThreshold <= 0 {
		cfg.failureThreshold = 1
	}
	if cfg.backoffFactor < 1 {
		cfg.backoffFactor = 1
	}
	if cfg.maxCooldown < cfg.cooldown {
		cfg.maxCooldown = cfg.cooldown
	}

	return &Breaker{
		name:     name,
		cfg:      cfg,
		state:    StateClosed,
		cooldown: cfg.cooldown,
	}
}

// Name returns the name given to New.
func (b *Breaker) Name() string {
	return b.name
}

// Ticket identifies one admission. Outcomes are reported with the ticket
// Allow returned so they apply to the state that admitted the call.
type Ticket struct {
	generation uint64
}

// Allow reports whether a call may proceed. A nil error obliges the caller
// to report the outcome through RecordSuccess, RecordFailure or Release
// with the returned ticket.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.now().Before(b.nextAttemptAt) {
			return Ticket{}, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return Ticket{}, ErrCircuitOpen
		}
		b.probing = true
	}

	return Ticket{generation: b.generation}, nil
}

// current reports whether t was issued in the present state. Outcomes of
// calls admitted before the last transition are dropped.
func (b *Breaker) current(t Ticket) bool {
	return t.generation == b.generation
}

// RecordSuccess records a successful call. A successful probe closes the breaker.
func (b *Breaker) RecordSuccess(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.current(t) {
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.probing = false
		b.cooldown = b.cfg.cooldown
		b.openedAt = time.Time{}
		b.setState(StateClosed)
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.current(t) {
		return
	}

	now := b.cfg.now()
	b.lastFailureAt = now

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		next := time.Duration(float64(b.cooldown) * b.cfg.backoffFactor)
		if next > b.cfg.maxCooldown {
			next = b.cfg.maxCooldown
		}
		b.cooldown = next
		b.nextAttemptAt = now.Add(b.cooldown)
		b.setState(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.failureThreshold {
			b.openedAt = now
			b.nextAttemptAt = now.Add(b.cooldown)
			b.setState(StateOpen)
		}
	}
}

// Release gives back an admission without recording an outcome. The
// consecutive failure count is left as it was.
func (b *Breaker) Release(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current(t) && b.state == StateHalfOpen {
		b.probing = false
	}
}

// Do runs fn if the breaker admits it and records the outcome. The outcome
// is released instead when ctx is done or the error is ignored.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	t, err := b.Allow()
	if err != nil {
		return err
	}

	err = fn()
	switch {
	case ctx.Err() != nil, err != nil && b.cfg.isIgnored(err):
		b.Release(t)
	case err != nil && b.cfg.isFailure(err):
		b.RecordFailure(t)
	default:
		b.RecordSuccess(t)
	}

	return err
}

// State returns the current state. An open breaker whose cooldown has
// elapsed is still reported as open until a call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Snapshot returns a copy of the breaker internals.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
		NextAttemptAt:       b.nextAttemptAt,
		Cooldown:            b.cooldown,
	}
}

// OpenFor returns how long the breaker has been continuously not closed,
// or zero when it is closed.
func (b *Breaker) OpenFor() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed || b.openedAt.IsZero() {
		return 0
	}
	return b.cfg.now().Sub(b.openedAt)
}

// BaseCooldown returns the configured cooldown before any backoff.
func (b *Breaker) BaseCooldown() time.Duration {
	return b.cfg.cooldown
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	if to == StateClosed {
		b.failures = 0
	}
	b.cfg.onStateChange(from, to)
}
