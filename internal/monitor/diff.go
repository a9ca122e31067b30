package monitor

import (
	"math/big"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/types"

	"github.com/shopspring/decimal"
)

// Diff compares two snapshots of the same address and returns the material
// changes in a deterministic order: one balance change per differing asset,
// sorted by asset, or a single activity change when no balance moved but the
// sequence advanced. Equal snapshots produce no changes.
func Diff(prev, next addrstate.Snapshot) []addrstate.Change {
	assets := types.NewSet[addrstate.Asset]()
	for asset := range prev.Balances {
		assets.Add(asset)
	}
	for asset := range next.Balances {
		assets.Add(asset)
	}

	var changes []addrstate.Change
	for _, asset := range types.Sorted(assets) {
		before, after := prev.Balance(asset), next.Balance(asset)

		kind := addrstate.KindBalanceIncrease
		switch before.Cmp(after) {
		case 0:
			continue
		case 1:
			kind = addrstate.KindBalanceDecrease
		}

		changes = append(changes, addrstate.Change{
			Kind:   kind,
			Asset:  asset,
			Before: before,
			After:  after,
			Delta:  after.Sub(before).Abs(),
		})
	}

	// A balance movement already implies activity.
	if len(changes) == 0 && next.Sequence > prev.Sequence {
		before, after := sequence(prev.Sequence), sequence(next.Sequence)
		changes = append(changes, addrstate.Change{
			Kind:   addrstate.KindNewActivity,
			Before: before,
			After:  after,
			Delta:  after.Sub(before),
		})
	}

	return changes
}

func sequence(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
