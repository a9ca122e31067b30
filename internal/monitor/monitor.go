// Package monitor implements the per-address check: fetch the current state,
// compare it with the last known snapshot, persist the new snapshot and
// publish one change event per watching user.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/fetcher"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/telemetry"
	"github.com/gabapcia/addresswatch/internal/pkg/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownPolicy is returned by ParsePolicy for unsupported values.
var ErrUnknownPolicy = errors.New("unknown permanent failure policy")

// Fetcher retrieves the current state of an address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (addrstate.Snapshot, error)
}

// SnapshotStorage is the subset of addrstate.Store used by the monitor.
type SnapshotStorage interface {
	Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error)
	PutSnapshot(ctx context.Context, s addrstate.Snapshot) error
	DeactivateAddress(ctx context.Context, userID int64, address string) error
}

// EventNotifier delivers change events. Delivery is owned by the notifier;
// the monitor logs failures and never retries them.
type EventNotifier interface {
	Publish(ctx context.Context, event addrstate.ChangeEvent) error
}

// Policy decides what happens to an address whose fetch fails permanently.
type Policy string

const (
	// PolicyFlag logs the failure once and keeps scanning the address.
	PolicyFlag Policy = "flag"

	// PolicyDeactivate deactivates every registration of the address.
	PolicyDeactivate Policy = "deactivate"
)

// ParsePolicy parses a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFlag, PolicyDeactivate:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Target is an address together with every active registration watching it.
// State is kept per address; events are emitted once per owner.
type Target struct {
	Address string
	Owners  []addrstate.AddressRecord
}

// Outcome summarizes what a check did.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeBaseline
	OutcomeUnchanged
	OutcomeChanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBaseline:
		return "baseline"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	default:
		return "failed"
	}
}

// FailureClass groups failed checks for reporting.
type FailureClass string

const (
	ClassNone        FailureClass = ""
	ClassTransient   FailureClass = "transient"
	ClassPermanent   FailureClass = "permanent"
	ClassCircuitOpen FailureClass = "circuit_open"
	ClassStore       FailureClass = "store"
	ClassCanceled    FailureClass = "canceled"
)

// Result is the outcome of one check. Failures are values: Check never
// returns an error.
type Result struct {
	Address string
	Outcome Outcome
	Changes []addrstate.Change
	Events  []addrstate.ChangeEvent

	// Published counts events the notifier accepted.
	Published int

	Err   error
	Class FailureClass

	// FirstReport is set on the first permanent failure of an address so
	// callers can log it once.
	FirstReport bool
}

// Service checks addresses.
type Service interface {
	Check(ctx context.Context, target Target) Result
}

type service struct {
	fetcher  Fetcher
	storage  SnapshotStorage
	notifier EventNotifier
	policy   Policy
	now      func() time.Time

	locks keyedMutex

	flaggedMu sync.Mutex
	flagged   types.Set[string]

	changes   metric.Int64Counter
	published metric.Int64Counter
}

var _ Service = (*service)(nil)

type config struct {
	policy Policy
	now    func() time.Time
}

// Option configures the monitor.
type Option func(*config)

// WithPolicy sets the permanent failure policy. Defaults to PolicyFlag.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New builds a monitor.
func New(f Fetcher, s SnapshotStorage, n EventNotifier, opts ...Option) *service {
	cfg := config{
		policy: PolicyFlag,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	meter := telemetry.Meter()
	changes, err := meter.Int64Counter(
		"addresswatch_changes_total",
		metric.WithDescription("Detected address changes by kind"),
	)
	if err != nil {
		otel.Handle(err)
	}
	published, err := meter.Int64Counter(
		"addresswatch_events_published_total",
		metric.WithDescription("Change events handed to the notifier by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &service{
		fetcher:   f,
		storage:   s,
		notifier:  n,
		policy:    cfg.policy,
		now:       cfg.now,
		flagged:   types.NewSet[string](),
		changes:   changes,
		published: published,
	}
}

// Check runs one fetch-diff-persist-publish pass for target. Checks of the
// same address are serialized.
func (s *service) Check(ctx context.Context, target Target) (result Result) {
	address := addrstate.NormalizeAddress(target.Address)

	unlock := s.locks.Lock(address)
	defer unlock()

	ctx = logger.Derive(ctx, "address", address)
	ctx, span := telemetry.Tracer().Start(ctx, "monitor.Check", trace.WithAttributes(
		attribute.String("address", address),
		attribute.Int("owners", len(target.Owners)),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, string(result.Class))
		}
		span.End()
	}()

	next, err := s.fetcher.Fetch(ctx, address)
	if err != nil {
		return s.fetchFailure(ctx, address, target.Owners, err)
	}
	s.unflag(address)

	prev, err := s.storage.Snapshot(ctx, address)
	if errors.Is(err, addrstate.ErrSnapshotNotFound) {
		if err := s.storage.PutSnapshot(ctx, next); err != nil {
			return storeFailure(address, err)
		}
		return Result{Address: address, Outcome: OutcomeBaseline}
	}
	if err != nil {
		return storeFailure(address, fmt.Errorf("load snapshot: %w", err))
	}

	changes := Diff(prev, next)

	// Some nodes lag behind others; the stored marker never goes back.
	next.Sequence = max(next.Sequence, prev.Sequence)

	// The write also happens without changes so FetchedAt stays fresh.
	if err := s.storage.PutSnapshot(ctx, next); err != nil {
		return storeFailure(address, err)
	}

	if len(changes) == 0 {
		return Result{Address: address, Outcome: OutcomeUnchanged}
	}

	for _, c := range changes {
		s.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(c.Kind))))
	}

	events := s.events(address, target.Owners, changes)
	return Result{
		Address:   address,
		Outcome:   OutcomeChanged,
		Changes:   changes,
		Events:    events,
		Published: s.publish(ctx, events),
	}
}

// events fans changes out to every owner of the address.
func (s *service) events(address string, owners []addrstate.AddressRecord, changes []addrstate.Change) []addrstate.ChangeEvent {
	detectedAt := s.now().UTC()

	events := make([]addrstate.ChangeEvent, 0, len(owners)*len(changes))
	for _, owner := range owners {
		for _, change := range changes {
			events = append(events, addrstate.ChangeEvent{
				ID:         uuid.Must(uuid.NewV7()).String(),
				UserID:     owner.UserID,
				Address:    address,
				Label:      owner.Label,
				DetectedAt: detectedAt,
				Change:     change,
			})
		}
	}

	return events
}

// publish hands every event to the notifier and returns how many were accepted.
func (s *service) publish(ctx context.Context, events []addrstate.ChangeEvent) int {
	var published int
	for _, event := range events {
		outcome := "ok"
		if err := s.notifier.Publish(ctx, event); err != nil {
			outcome = "error"
			logger.Error(ctx, "error publishing change event",
				"event.id", event.ID,
				"event.kind", event.Kind,
				"event.user_id", event.UserID,
				"error", err,
			)
		} else {
			published++
		}
		s.published.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	return published
}

// fetchFailure classifies a fetch error and applies the permanent failure policy.
func (s *service) fetchFailure(ctx context.Context, address string, owners []addrstate.AddressRecord, err error) Result {
	result := Result{Address: address, Outcome: OutcomeFailed, Err: err}

	switch {
	case errors.Is(err, fetcher.ErrCircuitOpen):
		result.Class = ClassCircuitOpen
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		result.Class = ClassCanceled
	case fetcher.IsPermanent(err):
		result.Class = ClassPermanent
		result.FirstReport = s.flag(address)
		if s.policy == PolicyDeactivate {
			if deactivateErr := s.deactivate(ctx, address, owners); deactivateErr != nil {
				result.Err = errors.Join(err, deactivateErr)
			}
		}
	default:
		result.Class = ClassTransient
	}

	return result
}

func (s *service) deactivate(ctx context.Context, address string, owners []addrstate.AddressRecord) error {
	var errs []error
	for _, owner := range owners {
		if err := s.storage.DeactivateAddress(ctx, owner.UserID, address); err != nil {
			errs = append(errs, fmt.Errorf("deactivate for user %d: %w", owner.UserID, err))
			continue
		}
		logger.Warn(ctx, "address deactivated after permanent failure", "user.id", owner.UserID)
	}
	return errors.Join(errs...)
}

// flag marks address as permanently failing and reports whether it was new.
func (s *service) flag(address string) bool {
	s.flaggedMu.Lock()
	defer s.flaggedMu.Unlock()

	if s.flagged.Has(address) {
		return false
	}
	s.flagged.Add(address)
	return true
}

func (s *service) unflag(address string) {
	s.flaggedMu.Lock()
	defer s.flaggedMu.Unlock()
	s.flagged.Delete(address)
}

// Flagged returns the addresses currently failing permanently, sorted.
func (s *service) Flagged() []string {
	s.flaggedMu.Lock()
	defer s.flaggedMu.Unlock()
	return types.Sorted(s.flagged)
}

func storeFailure(address string, err error) Result {
	return Result{
		Address: address,
		Outcome: OutcomeFailed,
		Err:     fmt.Errorf("state store: %w", err),
		Class:   ClassStore,
	}
}
