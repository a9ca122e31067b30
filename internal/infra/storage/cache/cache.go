// Package cache decorates an addrstate.Store with an in-process LRU of the
// latest snapshots. Writes go through to the wrapped store first and only
// then update the cache, so a failed write never leaves a cached snapshot
// the store does not hold.
package cache

import (
	"context"
	"maps"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of snapshots kept when New is given a
// non-positive size.
const DefaultSize = 4096

type store struct {
	addrstate.Store

	snapshots *lru.Cache[string, addrstate.Snapshot]
}

var _ addrstate.Store = (*store)(nil)

// New wraps next with a snapshot cache holding up to size entries.
func New(next addrstate.Store, size int) (*store, error) {
	if size <= 0 {
		size = DefaultSize
	}

	snapshots, err := lru.New[string, addrstate.Snapshot](size)
	if err != nil {
		return nil, err
	}

	return &store{Store: next, snapshots: snapshots}, nil
}

// Snapshot serves from the cache, falling back to the wrapped store.
// ErrSnapshotNotFound is never cached.
func (s *store) Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error) {
	address = addrstate.NormalizeAddress(address)
	if snapshot, ok := s.snapshots.Get(address); ok {
		return clone(snapshot), nil
	}

	snapshot, err := s.Store.Snapshot(ctx, address)
	if err != nil {
		return addrstate.Snapshot{}, err
	}

	s.snapshots.Add(address, clone(snapshot))
	return snapshot, nil
}

// PutSnapshot writes through. On failure the cached entry is dropped since
// the store state is unknown.
func (s *store) PutSnapshot(ctx context.Context, snapshot addrstate.Snapshot) error {
	snapshot.Address = addrstate.NormalizeAddress(snapshot.Address)
	if err := s.Store.PutSnapshot(ctx, snapshot); err != nil {
		s.snapshots.Remove(snapshot.Address)
		return err
	}

	s.snapshots.Add(snapshot.Address, clone(snapshot))
	return nil
}

// Len returns the number of cached snapshots.
func (s *store) Len() int {
	return s.snapshots.Len()
}

func clone(snapshot addrstate.Snapshot) addrstate.Snapshot {
	snapshot.Balances = maps.Clone(snapshot.Balances)
	return snapshot
}
