package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/shopspring/decimal"
)

// Snapshot implements addrstate.Store.
func (s *store) Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	address = addrstate.NormalizeAddress(address)

	var (
		balances              string
		sequence, blockNumber int64
		fetchedAt             int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT balances, sequence, block_number, fetched_at
		FROM address_snapshots WHERE address = ?
	`), address).Scan(&balances, &sequence, &blockNumber, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return addrstate.Snapshot{}, addrstate.ErrSnapshotNotFound
	}
	if err != nil {
		return addrstate.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snapshot := addrstate.Snapshot{
		Address:     address,
		Sequence:    uint64(sequence),
		BlockNumber: uint64(blockNumber),
		FetchedAt:   time.UnixMicro(fetchedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(balances), &snapshot.Balances); err != nil {
		return addrstate.Snapshot{}, fmt.Errorf("decode balances of %s: %w", address, err)
	}
	return snapshot, nil
}

// PutSnapshot implements addrstate.Store with a single upsert.
func (s *store) PutSnapshot(ctx context.Context, snapshot addrstate.Snapshot) error {
	balances := snapshot.Balances
	if balances == nil {
		balances = map[addrstate.Asset]decimal.Decimal{}
	}
	data, err := json.Marshal(balances)
	if err != nil {
		return err
	}

	sequence, err := toInt64(snapshot.Sequence)
	if err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	blockNumber, err := toInt64(snapshot.BlockNumber)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO address_snapshots (address, balances, sequence, block_number, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			balances = excluded.balances,
			sequence = excluded.sequence,
			block_number = excluded.block_number,
			fetched_at = excluded.fetched_at
	`, addrstate.NormalizeAddress(snapshot.Address), string(data), sequence, blockNumber, snapshot.FetchedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// toInt64 converts counters to the signed column type.
func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows BIGINT", v)
	}
	return int64(v), nil
}
