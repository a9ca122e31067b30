package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/infra/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts snapshot reads and can fail writes.
type countingStore struct {
	addrstate.Store

	reads    int
	writeErr error
}

func (s *countingStore) Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error) {
	s.reads++
	return s.Store.Snapshot(ctx, address)
}

func (s *countingStore) PutSnapshot(ctx context.Context, snapshot addrstate.Snapshot) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.PutSnapshot(ctx, snapshot)
}

func snapshotOf(address string, usdc int64) addrstate.Snapshot {
	return addrstate.Snapshot{
		Address: address,
		Balances: map[addrstate.Asset]decimal.Decimal{
			addrstate.AssetHYPE: decimal.Zero,
			addrstate.AssetUSDC: decimal.NewFromInt(usdc),
		},
		FetchedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	s, err := New(memory.New(), 0)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestStore_Snapshot(t *testing.T) {
	t.Run("second read is served from cache", func(t *testing.T) {
		inner := &countingStore{Store: memory.New()}
		require.NoError(t, inner.Store.PutSnapshot(t.Context(), snapshotOf("0xabc", 100)))

		s, err := New(inner, 8)
		require.NoError(t, err)

		first, err := s.Snapshot(t.Context(), "0xABC")
		require.NoError(t, err)
		second, err := s.Snapshot(t.Context(), "0xabc")
		require.NoError(t, err)

		assert.Equal(t, 1, inner.reads)
		assert.True(t, first.Balance(addrstate.AssetUSDC).Equal(second.Balance(addrstate.AssetUSDC)))
	})

	t.Run("misses are not cached", func(t *testing.T) {
		inner := &countingStore{Store: memory.New()}
		s, err := New(inner, 8)
		require.NoError(t, err)

		_, err = s.Snapshot(t.Context(), "0xabc")
		require.ErrorIs(t, err, addrstate.ErrSnapshotNotFound)
		_, err = s.Snapshot(t.Context(), "0xabc")
		require.ErrorIs(t, err, addrstate.ErrSnapshotNotFound)

		assert.Equal(t, 2, inner.reads)
	})

	t.Run("cached balances cannot be mutated by callers", func(t *testing.T) {
		s, err := New(memory.New(), 8)
		require.NoError(t, err)
		require.NoError(t, s.PutSnapshot(t.Context(), snapshotOf("0xabc", 100)))

		got, err := s.Snapshot(t.Context(), "0xabc")
		require.NoError(t, err)
		got.Balances[addrstate.AssetUSDC] = decimal.NewFromInt(1)

		again, err := s.Snapshot(t.Context(), "0xabc")
		require.NoError(t, err)
		assert.True(t, again.Balance(addrstate.AssetUSDC).Equal(decimal.NewFromInt(100)))
	})

	t.Run("least recently used entry is evicted", func(t *testing.T) {
		s, err := New(memory.New(), 1)
		require.NoError(t, err)

		require.NoError(t, s.PutSnapshot(t.Context(), snapshotOf("0xa", 1)))
		require.NoError(t, s.PutSnapshot(t.Context(), snapshotOf("0xb", 2)))

		assert.Equal(t, 1, s.Len())
		got, err := s.Snapshot(t.Context(), "0xa")
		require.NoError(t, err)
		assert.True(t, got.Balance(addrstate.AssetUSDC).Equal(decimal.NewFromInt(1)))
	})
}

func TestStore_PutSnapshot(t *testing.T) {
	t.Run("writes through", func(t *testing.T) {
		inner := memory.New()
		s, err := New(inner, 8)
		require.NoError(t, err)

		require.NoError(t, s.PutSnapshot(t.Context(), snapshotOf("0xABC", 150)))

		stored, err := inner.Snapshot(t.Context(), "0xabc")
		require.NoError(t, err)
		assert.True(t, stored.Balance(addrstate.AssetUSDC).Equal(decimal.NewFromInt(150)))
	})

	t.Run("failed write drops the cached entry", func(t *testing.T) {
		inner := &countingStore{Store: memory.New()}
		s, err := New(inner, 8)
		require.NoError(t, err)
		require.NoError(t, s.PutSnapshot(t.Context(), snapshotOf("0xabc", 100)))

		inner.writeErr = errors.New("disk full")
		err = s.PutSnapshot(t.Context(), snapshotOf("0xabc", 150))
		require.ErrorIs(t, err, inner.writeErr)

		got, err := s.Snapshot(t.Context(), "0xabc")
		require.NoError(t, err)
		assert.Equal(t, 1, inner.reads)
		assert.True(t, got.Balance(addrstate.AssetUSDC).Equal(decimal.NewFromInt(100)))
	})
}

func TestStore_PassesThroughRegistrations(t *testing.T) {
	inner := memory.New()
	require.NoError(t, inner.RegisterAddress(t.Context(), addrstate.AddressRecord{UserID: 1, Address: "0xabc"}))

	s, err := New(inner, 8)
	require.NoError(t, err)

	records, err := s.ActiveAddresses(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, s.DeactivateAddress(t.Context(), 1, "0xabc"))
	records, err = s.ActiveAddresses(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
}
