// Package memory implements addrstate.Store and addrstate.Registry in
// process memory. State is lost on restart; it backs tests and the
// one-shot "check" command.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
)

type registrationKey struct {
	userID  int64
	address string
}

type store struct {
	mu            sync.RWMutex
	registrations map[registrationKey]addrstate.AddressRecord
	snapshots     map[string]addrstate.Snapshot
	configs       map[int64]addrstate.ScanConfig
}

var (
	_ addrstate.Store    = (*store)(nil)
	_ addrstate.Registry = (*store)(nil)
)

// New returns an empty store.
func New() *store {
	return &store{
		registrations: make(map[registrationKey]addrstate.AddressRecord),
		snapshots:     make(map[string]addrstate.Snapshot),
		configs:       make(map[int64]addrstate.ScanConfig),
	}
}

func (s *store) RegisterAddress(_ context.Context, rec addrstate.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Address = addrstate.NormalizeAddress(rec.Address)
	key := registrationKey{rec.UserID, rec.Address}
	if existing, ok := s.registrations[key]; ok && existing.Active {
		return addrstate.ErrAlreadyRegistered
	}

	rec.Active = true
	s.registrations[key] = rec
	return nil
}

func (s *store) RemoveAddress(_ context.Context, userID int64, address string) error {
	if !s.deactivate(userID, address) {
		return addrstate.ErrAddressNotFound
	}
	return nil
}

func (s *store) DeactivateAddress(_ context.Context, userID int64, address string) error {
	s.deactivate(userID, address)
	return nil
}

func (s *store) deactivate(userID int64, address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := registrationKey{userID, addrstate.NormalizeAddress(address)}
	rec, ok := s.registrations[key]
	if !ok || !rec.Active {
		return false
	}
	rec.Active = false
	s.registrations[key] = rec
	return true
}

func (s *store) CountActiveAddresses(ctx context.Context, userID int64) (int, error) {
	records, err := s.UserAddresses(ctx, userID)
	return len(records), err
}

func (s *store) UserAddresses(_ context.Context, userID int64) ([]addrstate.AddressRecord, error) {
	return s.filter(func(rec addrstate.AddressRecord) bool {
		return rec.Active && rec.UserID == userID
	}), nil
}

func (s *store) ActiveAddresses(context.Context) ([]addrstate.AddressRecord, error) {
	return s.filter(func(rec addrstate.AddressRecord) bool {
		return rec.Active
	}), nil
}

// filter returns matching records ordered by creation, user and address.
func (s *store) filter(keep func(addrstate.AddressRecord) bool) []addrstate.AddressRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []addrstate.AddressRecord
	for rec := range maps.Values(s.registrations) {
		if keep(rec) {
			records = append(records, rec)
		}
	}

	slices.SortFunc(records, func(a, b addrstate.AddressRecord) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.UserID, b.UserID),
			cmp.Compare(a.Address, b.Address),
		)
	})
	return records
}

func (s *store) Snapshot(_ context.Context, address string) (addrstate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[addrstate.NormalizeAddress(address)]
	if !ok {
		return addrstate.Snapshot{}, addrstate.ErrSnapshotNotFound
	}
	snapshot.Balances = maps.Clone(snapshot.Balances)
	return snapshot, nil
}

func (s *store) PutSnapshot(_ context.Context, snapshot addrstate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.Address = addrstate.NormalizeAddress(snapshot.Address)
	snapshot.Balances = maps.Clone(snapshot.Balances)
	s.snapshots[snapshot.Address] = snapshot
	return nil
}

func (s *store) ScanConfig(_ context.Context, userID int64) (addrstate.ScanConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[userID], nil
}

func (s *store) SetInterval(_ context.Context, userID int64, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.configs[userID]
	cfg.Interval = interval
	s.configs[userID] = cfg
	return nil
}

func (s *store) SetQuota(_ context.Context, userID int64, quota int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.configs[userID]
	cfg.Quota = quota
	s.configs[userID] = cfg
	return nil
}
