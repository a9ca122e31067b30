package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/redis/go-redis/v9"
)

// Snapshot implements addrstate.Store.
//
// Returns addrstate.ErrSnapshotNotFound if the address was never stored.
func (c *client) Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error) {
	address = addrstate.NormalizeAddress(address)

	data, err := c.conn.Get(ctx, c.snapshotKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = addrstate.ErrSnapshotNotFound
		}
		return addrstate.Snapshot{}, err
	}

	var s addrstate.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return addrstate.Snapshot{}, fmt.Errorf("decode snapshot of %s: %w", address, err)
	}
	return s, nil
}

// PutSnapshot implements addrstate.Store. A single SET replaces the value
// atomically.
func (c *client) PutSnapshot(ctx context.Context, s addrstate.Snapshot) error {
	s.Address = addrstate.NormalizeAddress(s.Address)

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return c.conn.Set(ctx, c.snapshotKey(s.Address), data, 0).Err()
}
