package scheduler

import (
	"context"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/monitor"
)

// CheckNow implements Service. The monitor serializes it with any scheduled
// check of the same address.
func (s *service) CheckNow(ctx context.Context, address string) (monitor.Result, error) {
	plans, err := s.loadPlans(ctx)
	if err != nil {
		return monitor.Result{}, err
	}

	p, ok := plans[addrstate.NormalizeAddress(address)]
	if !ok {
		return monitor.Result{}, addrstate.ErrAddressNotFound
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	res := s.check(ctx, p.target)
	s.totalScans.Add(1)
	s.changesFound.Add(int64(len(res.Changes)))
	s.eventsPublished.Add(int64(res.Published))
	if res.Err != nil && res.Class != monitor.ClassCanceled {
		s.errorCount.Add(1)
	}

	return res, nil
}
