// Package storetest holds the behaviour every addrstate storage adapter must
// share. Adapter packages call Run from their tests.
package storetest

import (
	"sync"
	"testing"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Storage is what an adapter under test implements.
type Storage interface {
	addrstate.Store
	addrstate.Registry
}

// Factory returns an empty storage. It is called once per subtest.
type Factory func(t *testing.T) Storage

const (
	addrA = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	addrB = "0x00000000219ab540356cbb839cbe05303d7705fa"
)

var createdAt = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func record(userID int64, address string, offset time.Duration) addrstate.AddressRecord {
	return addrstate.AddressRecord{
		UserID:    userID,
		Address:   address,
		Label:     "label",
		CreatedAt: createdAt.Add(offset),
	}
}

// Run exercises the Store and Registry contracts against new storages.
func Run(t *testing.T, newStorage Factory) {
	t.Run("register and list", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		require.NoError(t, s.RegisterAddress(ctx, record(1, addrB, time.Second)))
		require.NoError(t, s.RegisterAddress(ctx, record(1, "0x8BA1F109551BD432803012645AC136DDD64DBA72", 0)))
		require.NoError(t, s.RegisterAddress(ctx, record(2, addrA, 2*time.Second)))

		count, err := s.CountActiveAddresses(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		mine, err := s.UserAddresses(ctx, 1)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, addrA, mine[0].Address, "addresses are stored normalized and ordered by creation")
		assert.Equal(t, addrB, mine[1].Address)
		assert.True(t, mine[0].Active)
		assert.Equal(t, "label", mine[0].Label)
		assert.True(t, mine[0].CreatedAt.Equal(createdAt))

		active, err := s.ActiveAddresses(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 3)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		require.NoError(t, s.RegisterAddress(ctx, record(1, addrA, 0)))
		assert.ErrorIs(t, s.RegisterAddress(ctx, record(1, addrA, 0)), addrstate.ErrAlreadyRegistered)
		assert.NoError(t, s.RegisterAddress(ctx, record(2, addrA, 0)), "another user may watch the same address")
	})

	t.Run("remove is a soft delete and can be undone", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		require.NoError(t, s.RegisterAddress(ctx, record(1, addrA, 0)))
		require.NoError(t, s.RemoveAddress(ctx, 1, addrA))
		assert.ErrorIs(t, s.RemoveAddress(ctx, 1, addrA), addrstate.ErrAddressNotFound)

		count, err := s.CountActiveAddresses(ctx, 1)
		require.NoError(t, err)
		assert.Zero(t, count)

		active, err := s.ActiveAddresses(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)

		require.NoError(t, s.RegisterAddress(ctx, record(1, addrA, time.Hour)))
		mine, err := s.UserAddresses(ctx, 1)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.True(t, mine[0].Active)
	})

	t.Run("remove unknown address", func(t *testing.T) {
		s := newStorage(t)
		assert.ErrorIs(t, s.RemoveAddress(t.Context(), 1, addrA), addrstate.ErrAddressNotFound)
	})

	t.Run("deactivate is idempotent", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		require.NoError(t, s.RegisterAddress(ctx, record(1, addrA, 0)))
		require.NoError(t, s.DeactivateAddress(ctx, 1, addrA))
		require.NoError(t, s.DeactivateAddress(ctx, 1, addrA))
		require.NoError(t, s.DeactivateAddress(ctx, 9, addrB))

		active, err := s.ActiveAddresses(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("snapshots", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		_, err := s.Snapshot(ctx, addrA)
		assert.ErrorIs(t, err, addrstate.ErrSnapshotNotFound)

		first := addrstate.Snapshot{
			Address: addrA,
			Balances: map[addrstate.Asset]decimal.Decimal{
				addrstate.AssetHYPE: decimal.RequireFromString("1.000000000000000001"),
				addrstate.AssetUSDC: decimal.RequireFromString("100.25"),
			},
			Sequence:    7,
			BlockNumber: 1000,
			FetchedAt:   createdAt,
		}
		require.NoError(t, s.PutSnapshot(ctx, first))

		got, err := s.Snapshot(ctx, addrA)
		require.NoError(t, err)
		assertSnapshot(t, first, got)

		second := first
		second.Balances = map[addrstate.Asset]decimal.Decimal{
			addrstate.AssetHYPE: decimal.Zero,
			addrstate.AssetUSDC: decimal.RequireFromString("150"),
		}
		second.Sequence = 8
		second.FetchedAt = createdAt.Add(time.Minute)
		require.NoError(t, s.PutSnapshot(ctx, second))

		got, err = s.Snapshot(ctx, addrA)
		require.NoError(t, err)
		assertSnapshot(t, second, got)
	})

	t.Run("concurrent snapshot writes to different addresses", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		var wg sync.WaitGroup
		for i, address := range []string{addrA, addrB} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for seq := range 20 {
					err := s.PutSnapshot(ctx, addrstate.Snapshot{
						Address:  address,
						Balances: map[addrstate.Asset]decimal.Decimal{addrstate.AssetUSDC: decimal.NewFromInt(int64(i))},
						Sequence: uint64(seq),
					})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		for _, address := range []string{addrA, addrB} {
			got, err := s.Snapshot(ctx, address)
			require.NoError(t, err)
			assert.Equal(t, uint64(19), got.Sequence)
		}
	})

	t.Run("scan config", func(t *testing.T) {
		s := newStorage(t)
		ctx := t.Context()

		cfg, err := s.ScanConfig(ctx, 1)
		require.NoError(t, err)
		assert.Zero(t, cfg, "users without overrides use defaults")

		require.NoError(t, s.SetInterval(ctx, 1, 30*time.Second))
		require.NoError(t, s.SetQuota(ctx, 1, 50))
		require.NoError(t, s.SetInterval(ctx, 1, 45*time.Second))

		cfg, err = s.ScanConfig(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, addrstate.ScanConfig{Interval: 45 * time.Second, Quota: 50}, cfg)
	})
}

func assertSnapshot(t *testing.T, want, got addrstate.Snapshot) {
	t.Helper()

	assert.Equal(t, want.Address, got.Address)
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.Equal(t, want.BlockNumber, got.BlockNumber)
	assert.True(t, want.FetchedAt.Equal(got.FetchedAt), "fetched at: want %s, got %s", want.FetchedAt, got.FetchedAt)
	require.Len(t, got.Balances, len(want.Balances))
	for asset, amount := range want.Balances {
		assert.True(t, amount.Equal(got.Balance(asset)), "%s: want %s, got %s", asset, amount, got.Balance(asset))
	}
}
