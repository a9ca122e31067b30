// Package scheduler drives the periodic scanning of every active address.
//
// Each tick the scheduler reloads the active registrations and the users'
// scan settings, reconciles its due table, and dispatches every due address
// to a bounded worker pool. An address is never dispatched while a previous
// check of it is still running, and its next due time always advances by its
// interval, whatever the outcome.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/monitor"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/telemetry"
	"github.com/gabapcia/addresswatch/internal/pkg/x/chflow"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultConcurrency      = 8
	defaultTick             = 5 * time.Second
	defaultShutdownGrace    = 15 * time.Second
	defaultHealthMultiplier = 3
	defaultScanInterval     = 60 * time.Second
	defaultQuota            = 20
)

var (
	// ErrServiceAlreadyStarted is returned if Start is called more than once.
	ErrServiceAlreadyStarted = errors.New("service already started")

	// ErrCheckPanicked wraps the value recovered from a panicking check.
	ErrCheckPanicked = errors.New("address check panicked")
)

// Monitor checks one address.
type Monitor interface {
	Check(ctx context.Context, target monitor.Target) monitor.Result
}

// Storage is the subset of addrstate.Store read every cycle.
type Storage interface {
	ActiveAddresses(ctx context.Context) ([]addrstate.AddressRecord, error)
	ScanConfig(ctx context.Context, userID int64) (addrstate.ScanConfig, error)
}

// BreakerStatus exposes how long the upstream breaker has been open.
// *breaker.Breaker implements it.
type BreakerStatus interface {
	OpenFor() time.Duration
	BaseCooldown() time.Duration
}

// Service is the scheduler lifecycle.
type Service interface {
	// Start runs a cycle immediately and then one per tick until Close.
	// Returns ErrServiceAlreadyStarted if called twice.
	Start(ctx context.Context) error

	// Close stops dispatching, waits up to the shutdown grace period for
	// running checks, then cancels them and releases the worker pool.
	Close()

	// RunCycle performs one reconcile-and-dispatch pass and waits for it.
	RunCycle(ctx context.Context) CycleReport

	// CheckNow checks one watched address immediately, outside the due
	// table. Returns addrstate.ErrAddressNotFound if nobody watches it.
	CheckNow(ctx context.Context, address string) (monitor.Result, error)

	// IsHealthy reports whether cycles complete on time and the upstream
	// breaker has not been open for too long.
	IsHealthy() bool

	// Stats returns process-wide counters.
	Stats() Stats
}

// closeFunc stops the background loop and releases resources.
type closeFunc func()

type service struct {
	mu        sync.Mutex // protects lifecycle state
	isStarted bool
	closeFunc closeFunc

	monitor Monitor
	storage Storage
	breaker BreakerStatus
	pool    *ants.Pool

	defaults         addrstate.ScanConfig
	tick             time.Duration
	shutdownGrace    time.Duration
	healthMultiplier int
	now              func() time.Time

	stateMu     sync.Mutex // protects everything below
	entries     map[string]*entry
	queue       dueQueue
	lastCycleAt time.Time
	lastScanAt  time.Time

	totalScans      atomic.Int64
	changesFound    atomic.Int64
	eventsPublished atomic.Int64
	errorCount      atomic.Int64
	inFlight        atomic.Int64

	checks        metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

var _ Service = (*service)(nil)

type config struct {
	concurrency      int
	tick             time.Duration
	shutdownGrace    time.Duration
	healthMultiplier int
	defaults         addrstate.ScanConfig
	breaker          BreakerStatus
	now              func() time.Time
}

// Option configures the scheduler.
type Option func(*config)

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithTick sets how often a cycle runs.
func WithTick(d time.Duration) Option {
	return func(c *config) {
		c.tick = d
	}
}

// WithShutdownGrace bounds how long Close waits for running checks.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *config) {
		c.shutdownGrace = d
	}
}

// WithDefaults sets the scan settings used when a user has no override.
func WithDefaults(defaults addrstate.ScanConfig) Option {
	return func(c *config) {
		c.defaults = defaults
	}
}

// WithBreakerStatus makes IsHealthy account for the upstream breaker.
func WithBreakerStatus(b BreakerStatus) Option {
	return func(c *config) {
		c.breaker = b
	}
}

// WithBreakerHealthMultiplier sets how many base cooldowns the breaker may
// stay open before the process reports unhealthy.
func WithBreakerHealthMultiplier(n int) Option {
	return func(c *config) {
		c.healthMultiplier = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New builds a scheduler. It fails only if the worker pool cannot be created.
func New(m Monitor, s Storage, opts ...Option) (*service, error) {
	cfg := config{
		concurrency:      defaultConcurrency,
		tick:             defaultTick,
		shutdownGrace:    defaultShutdownGrace,
		healthMultiplier: defaultHealthMultiplier,
		defaults:         addrstate.ScanConfig{Interval: defaultScanInterval, Quota: defaultQuota},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	pool, err := ants.NewPool(cfg.concurrency, ants.WithPanicHandler(func(v any) {
		logger.Error(context.Background(), "worker panicked outside of a check", "panic", v)
	}))
	if err != nil {
		return nil, err
	}

	svc := &service{
		monitor:          m,
		storage:          s,
		breaker:          cfg.breaker,
		pool:             pool,
		defaults:         cfg.defaults,
		tick:             cfg.tick,
		shutdownGrace:    cfg.shutdownGrace,
		healthMultiplier: cfg.healthMultiplier,
		now:              cfg.now,
		entries:          make(map[string]*entry),
	}
	svc.initMetrics()

	return svc, nil
}

func (s *service) initMetrics() {
	meter := telemetry.Meter()

	var err error
	s.checks, err = meter.Int64Counter(
		"addresswatch_checks_total",
		metric.WithDescription("Address checks by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	s.cycleDuration, err = meter.Float64Histogram(
		"addresswatch_cycle_duration_seconds",
		metric.WithDescription("Duration of scheduler cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	_, err = meter.Int64ObservableGauge(
		"addresswatch_tracked_addresses",
		metric.WithDescription("Addresses currently scheduled"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.tracked()))
			return nil
		}),
	)
	if err != nil {
		otel.Handle(err)
	}
}

// Start implements Service.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	if s.pool.IsClosed() {
		s.pool.Reboot()
	}

	// Checks outlive the dispatch loop so they can drain on shutdown.
	loopCtx, stopLoop := context.WithCancel(ctx)
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(loopCtx, workCtx)
	}()

	s.closeFunc = func() {
		stopLoop()

		timer := time.NewTimer(s.shutdownGrace)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			logger.Warn(ctx, "shutdown grace period expired, canceling running checks",
				"scheduler.in_flight", s.inFlight.Load(),
			)
			stopWork()
			<-done
		}
		stopWork()
		s.pool.Release()
	}
	s.isStarted = true

	logger.Info(ctx, "scheduler started",
		"scheduler.tick", s.tick.String(),
		"scheduler.concurrency", s.pool.Cap(),
	)
	return nil
}

// Close implements Service.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	s.closeFunc = nil
	s.isStarted = false
}

// loop dispatches once per tick without waiting for earlier batches. It
// returns after loopCtx ends and every dispatched batch has finished.
func (s *service) loop(loopCtx, workCtx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var batches sync.WaitGroup
	defer batches.Wait()

	for {
		report, results := s.dispatch(loopCtx, workCtx)
		batches.Add(1)
		go func() {
			defer batches.Done()
			s.finish(loopCtx, workCtx, report, results)
		}()

		if _, ok := chflow.Receive(loopCtx, ticker.C); !ok {
			return
		}
	}
}

// tracked returns how many addresses are scheduled.
func (s *service) tracked() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return len(s.entries)
}
