package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/monitor"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/x/chflow"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CycleReport aggregates the results of one cycle.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Tracked    int
	Dispatched int

	Baselines int
	Unchanged int
	Changed   int
	Events    int
	Published int

	// Failures counts failed checks per class.
	Failures map[monitor.FailureClass]int

	// Interrupted is set when dispatching stopped before every due address
	// was handed to a worker.
	Interrupted bool

	// Err is set when the cycle could not load the active addresses.
	Err error
}

func (r *CycleReport) add(res monitor.Result) {
	switch res.Outcome {
	case monitor.OutcomeBaseline:
		r.Baselines++
	case monitor.OutcomeUnchanged:
		r.Unchanged++
	case monitor.OutcomeChanged:
		r.Changed++
	default:
		r.Failures[res.Class]++
	}
	r.Events += len(res.Events)
	r.Published += res.Published
}

// plan is the desired scheduling of one address for this cycle.
type plan struct {
	target   monitor.Target
	interval time.Duration
}

// RunCycle implements Service.
func (s *service) RunCycle(ctx context.Context) CycleReport {
	report, results := s.dispatch(ctx, ctx)
	return s.finish(ctx, ctx, report, results)
}

// dispatch reconciles the due table and hands every due address to a
// worker while dispatchCtx is alive. Checks run under workCtx and report on
// the returned channel. Addresses still in flight from an earlier cycle are
// not due, so a slow check never runs twice concurrently.
func (s *service) dispatch(dispatchCtx, workCtx context.Context) (CycleReport, <-chan monitor.Result) {
	report := CycleReport{
		StartedAt: s.now(),
		Failures:  make(map[monitor.FailureClass]int),
	}

	plans, err := s.loadPlans(dispatchCtx)
	if err != nil {
		report.Err = fmt.Errorf("load active addresses: %w", err)
		if dispatchCtx.Err() == nil {
			logger.Error(dispatchCtx, "error loading active addresses", "error", err)
		}
		return report, nil
	}

	report.Tracked = s.reconcile(plans, report.StartedAt)
	due := s.takeDue(report.StartedAt)

	results := make(chan monitor.Result, len(due))
	for i, e := range due {
		if dispatchCtx.Err() != nil {
			s.requeue(due[i:])
			report.Interrupted = true
			break
		}

		target := e.target
		err := s.pool.Submit(func() {
			results <- s.run(workCtx, e, target)
		})
		if err != nil {
			logger.Error(dispatchCtx, "error dispatching address check", "address", target.Address, "error", err)
			s.requeue(due[i:])
			report.Interrupted = true
			break
		}
		report.Dispatched++
	}

	return report, results
}

// finish waits for the checks dispatched in report and completes it.
func (s *service) finish(ctx, workCtx context.Context, report CycleReport, results <-chan monitor.Result) CycleReport {
	if report.Err != nil {
		report.FinishedAt = s.now()
		return report
	}

	batch := chflow.Collect(results, report.Dispatched)
	for _, res := range batch {
		report.add(res)
	}
	report.FinishedAt = s.now()

	if !report.Interrupted {
		s.stateMu.Lock()
		if report.FinishedAt.After(s.lastCycleAt) {
			s.lastCycleAt = report.FinishedAt
		}
		s.stateMu.Unlock()
	}

	s.cycleDuration.Record(workCtx, report.FinishedAt.Sub(report.StartedAt).Seconds())
	s.logReport(ctx, report, batch)

	return report
}

// loadPlans groups the active registrations by address. The interval of an
// address is the shortest interval among the users watching it.
func (s *service) loadPlans(ctx context.Context) (map[string]plan, error) {
	records, err := s.storage.ActiveAddresses(ctx)
	if err != nil {
		return nil, err
	}

	intervals := make(map[int64]time.Duration)
	plans := make(map[string]plan)
	for _, rec := range records {
		if !rec.Active {
			continue
		}

		interval, ok := intervals[rec.UserID]
		if !ok {
			interval = s.userInterval(ctx, rec.UserID)
			intervals[rec.UserID] = interval
		}

		address := addrstate.NormalizeAddress(rec.Address)
		p, ok := plans[address]
		if !ok || interval < p.interval {
			p.interval = interval
		}
		p.target.Address = address
		p.target.Owners = append(p.target.Owners, rec)
		plans[address] = p
	}

	return plans, nil
}

func (s *service) userInterval(ctx context.Context, userID int64) time.Duration {
	cfg, err := s.storage.ScanConfig(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "error loading scan config, using defaults",
			"user.id", userID,
			"error", err,
		)
		cfg = addrstate.ScanConfig{}
	}
	return cfg.WithDefaults(s.defaults).Interval
}

// reconcile brings the due table in line with plans and returns how many
// addresses are tracked afterwards.
func (s *service) reconcile(plans map[string]plan, now time.Time) int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for address, e := range s.entries {
		if _, ok := plans[address]; ok {
			continue
		}
		if e.inFlight {
			e.removed = true
			continue
		}
		if e.index >= 0 {
			heap.Remove(&s.queue, e.index)
		}
		delete(s.entries, address)
	}

	for address, p := range plans {
		e, ok := s.entries[address]
		if !ok {
			e = &entry{target: p.target, interval: p.interval, due: now, index: -1}
			s.entries[address] = e
			heap.Push(&s.queue, e)
			continue
		}

		e.target = p.target
		e.removed = false
		if e.interval != p.interval {
			e.interval = p.interval
			if !e.lastScan.IsZero() {
				e.due = e.lastScan.Add(p.interval)
			}
			if e.index >= 0 {
				heap.Fix(&s.queue, e.index)
			}
		}
	}

	return len(s.entries)
}

// takeDue pops every entry due at now and marks it in flight.
func (s *service) takeDue(now time.Time) []*entry {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var due []*entry
	for e := s.queue.peek(); e != nil && !e.due.After(now); e = s.queue.peek() {
		heap.Pop(&s.queue)
		e.inFlight = true
		due = append(due, e)
	}
	return due
}

// requeue puts entries that were taken but never dispatched back in the queue.
func (s *service) requeue(entries []*entry) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for _, e := range entries {
		e.inFlight = false
		if e.removed {
			delete(s.entries, e.target.Address)
			continue
		}
		heap.Push(&s.queue, e)
	}
}

// complete records a finished check and schedules the next one.
func (s *service) complete(e *entry, finishedAt time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	e.inFlight = false
	e.lastScan = finishedAt
	e.due = finishedAt.Add(e.interval)
	s.lastScanAt = finishedAt

	if e.removed {
		if s.entries[e.target.Address] == e {
			delete(s.entries, e.target.Address)
		}
		return
	}
	heap.Push(&s.queue, e)
}

// run executes one check on a worker.
func (s *service) run(ctx context.Context, e *entry, target monitor.Target) monitor.Result {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	res := s.check(ctx, target)
	s.complete(e, s.now())

	s.totalScans.Add(1)
	s.changesFound.Add(int64(len(res.Changes)))
	s.eventsPublished.Add(int64(res.Published))
	if res.Err != nil && res.Class != monitor.ClassCanceled {
		s.errorCount.Add(1)
	}
	s.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.String("class", string(res.Class)),
	))

	return res
}

// check runs the monitor, turning a panic into a failed result.
func (s *service) check(ctx context.Context, target monitor.Target) (res monitor.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = monitor.Result{
				Address: target.Address,
				Outcome: monitor.OutcomeFailed,
				Err:     fmt.Errorf("%w: %v", ErrCheckPanicked, r),
				Class:   monitor.ClassTransient,
			}
		}
	}()

	return s.monitor.Check(ctx, target)
}

// logReport writes one line per failure class instead of one per address.
// Permanent failures are the exception: each is logged the first time.
func (s *service) logReport(ctx context.Context, report CycleReport, results []monitor.Result) {
	for _, res := range results {
		if res.Class == monitor.ClassPermanent && res.FirstReport {
			logger.Error(ctx, "address failing permanently", "address", res.Address, "error", res.Err)
		}
	}

	if n := report.Failures[monitor.ClassTransient]; n > 0 {
		logger.Warn(ctx, "transient check failures", "cycle.failures", n, "cycle.dispatched", report.Dispatched)
	}
	if n := report.Failures[monitor.ClassCircuitOpen]; n > 0 {
		logger.Warn(ctx, "checks skipped while the circuit breaker is open", "cycle.skipped", n)
	}
	if n := report.Failures[monitor.ClassStore]; n > 0 {
		logger.Error(ctx, "state store failures", "cycle.failures", n, "error", firstError(results, monitor.ClassStore))
	}

	if report.Dispatched == 0 {
		return
	}
	logger.Debug(ctx, "scan cycle completed",
		"cycle.tracked", report.Tracked,
		"cycle.dispatched", report.Dispatched,
		"cycle.changed", report.Changed,
		"cycle.events", report.Events,
		"cycle.duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
}

func firstError(results []monitor.Result, class monitor.FailureClass) error {
	for _, res := range results {
		if res.Class == class {
			return res.Err
		}
	}
	return nil
}
