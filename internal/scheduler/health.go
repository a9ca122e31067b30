package scheduler

import "time"

// Stats are process-wide scan counters.
type Stats struct {
	TotalScans      int64     `json:"total_scans"`
	ChangesFound    int64     `json:"changes_found"`
	EventsPublished int64     `json:"events_published"`
	Errors          int64     `json:"errors"`
	Tracked         int       `json:"tracked_addresses"`
	InFlight        int64     `json:"in_flight"`
	LastScanAt      time.Time `json:"last_scan_at,omitzero"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitzero"`
	Healthy         bool      `json:"healthy"`
}

// Stats implements Service.
func (s *service) Stats() Stats {
	s.stateMu.Lock()
	tracked, lastScan, lastCycle := len(s.entries), s.lastScanAt, s.lastCycleAt
	s.stateMu.Unlock()

	return Stats{
		TotalScans:      s.totalScans.Load(),
		ChangesFound:    s.changesFound.Load(),
		EventsPublished: s.eventsPublished.Load(),
		Errors:          s.errorCount.Load(),
		Tracked:         tracked,
		InFlight:        s.inFlight.Load(),
		LastScanAt:      lastScan,
		LastCycleAt:     lastCycle,
		Healthy:         s.IsHealthy(),
	}
}

// IsHealthy implements Service. It stays false until a full cycle has
// completed.
func (s *service) IsHealthy() bool {
	s.stateMu.Lock()
	last := s.lastCycleAt
	s.stateMu.Unlock()

	if last.IsZero() || s.now().Sub(last) > 2*s.defaults.Interval {
		return false
	}

	if s.breaker != nil {
		limit := time.Duration(s.healthMultiplier) * s.breaker.BaseCooldown()
		if s.breaker.OpenFor() > limit {
			return false
		}
	}

	return true
}
