package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/redis/go-redis/v9"
)

// RegisterAddress implements addrstate.Registry. The membership check and
// the write run in one optimistic transaction on the user's set; a
// concurrent change to that set aborts it with redis.TxFailedErr.
func (c *client) RegisterAddress(ctx context.Context, rec addrstate.AddressRecord) error {
	rec.Address = addrstate.NormalizeAddress(rec.Address)
	rec.Active = true

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	userKey := c.userActiveKey(rec.UserID)
	return c.conn.Watch(ctx, func(tx *redis.Tx) error {
		watched, err := tx.SIsMember(ctx, userKey, rec.Address).Result()
		if err != nil {
			return err
		}
		if watched {
			return addrstate.ErrAlreadyRegistered
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, userKey, rec.Address)
			pipe.HSet(ctx, c.registrationsKey(), registrationField(rec.UserID, rec.Address), data)
			return nil
		})
		return err
	}, userKey)
}

// RemoveAddress implements addrstate.Registry.
func (c *client) RemoveAddress(ctx context.Context, userID int64, address string) error {
	removed, err := c.deactivate(ctx, userID, address)
	if err != nil {
		return err
	}
	if !removed {
		return addrstate.ErrAddressNotFound
	}
	return nil
}

// DeactivateAddress implements addrstate.Store.
func (c *client) DeactivateAddress(ctx context.Context, userID int64, address string) error {
	_, err := c.deactivate(ctx, userID, address)
	return err
}

// deactivate soft-deletes a registration and reports whether it was active.
func (c *client) deactivate(ctx context.Context, userID int64, address string) (bool, error) {
	address = addrstate.NormalizeAddress(address)
	userKey := c.userActiveKey(userID)
	field := registrationField(userID, address)

	var removed bool
	err := c.conn.Watch(ctx, func(tx *redis.Tx) error {
		watched, err := tx.SIsMember(ctx, userKey, address).Result()
		if err != nil || !watched {
			return err
		}

		rec, err := c.record(ctx, tx, field)
		if err != nil {
			return err
		}
		rec.Active = false

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, userKey, address)
			pipe.HSet(ctx, c.registrationsKey(), field, data)
			return nil
		})
		removed = err == nil
		return err
	}, userKey)

	return removed, err
}

// hashGetter is satisfied by both *redis.Client and *redis.Tx.
type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (c *client) record(ctx context.Context, cmd hashGetter, field string) (addrstate.AddressRecord, error) {
	var rec addrstate.AddressRecord

	data, err := cmd.HGet(ctx, c.registrationsKey(), field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rec, fmt.Errorf("registration %s: %w", field, addrstate.ErrAddressNotFound)
		}
		return rec, err
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode registration %s: %w", field, err)
	}
	return rec, nil
}

// ActiveAddresses implements addrstate.Store.
func (c *client) ActiveAddresses(ctx context.Context) ([]addrstate.AddressRecord, error) {
	all, err := c.conn.HGetAll(ctx, c.registrationsKey()).Result()
	if err != nil {
		return nil, err
	}

	records := make([]addrstate.AddressRecord, 0, len(all))
	for field, data := range all {
		var rec addrstate.AddressRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode registration %s: %w", field, err)
		}
		if rec.Active {
			records = append(records, rec)
		}
	}

	sortRecords(records)
	return records, nil
}

// CountActiveAddresses implements addrstate.Registry.
func (c *client) CountActiveAddresses(ctx context.Context, userID int64) (int, error) {
	n, err := c.conn.SCard(ctx, c.userActiveKey(userID)).Result()
	return int(n), err
}

// UserAddresses implements addrstate.Registry.
func (c *client) UserAddresses(ctx context.Context, userID int64) ([]addrstate.AddressRecord, error) {
	addresses, err := c.conn.SMembers(ctx, c.userActiveKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	fields := make([]string, len(addresses))
	for i, address := range addresses {
		fields[i] = registrationField(userID, address)
	}

	values, err := c.conn.HMGet(ctx, c.registrationsKey(), fields...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]addrstate.AddressRecord, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var rec addrstate.AddressRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode registration %s: %w", fields[i], err)
		}
		records = append(records, rec)
	}

	sortRecords(records)
	return records, nil
}

// sortRecords orders records by creation time, then user and address.
func sortRecords(records []addrstate.AddressRecord) {
	slices.SortFunc(records, func(a, b addrstate.AddressRecord) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.UserID, b.UserID),
			cmp.Compare(a.Address, b.Address),
		)
	})
}

// scanConfigHash is the stored form of addrstate.ScanConfig.
type scanConfigHash struct {
	IntervalMS int64 `redis:"interval_ms"`
	Quota      int   `redis:"quota"`
}

// ScanConfig implements addrstate.Store and addrstate.Registry.
func (c *client) ScanConfig(ctx context.Context, userID int64) (addrstate.ScanConfig, error) {
	var h scanConfigHash
	if err := c.conn.HGetAll(ctx, c.scanConfigKey(userID)).Scan(&h); err != nil {
		return addrstate.ScanConfig{}, err
	}

	return addrstate.ScanConfig{
		Interval: time.Duration(h.IntervalMS) * time.Millisecond,
		Quota:    h.Quota,
	}, nil
}

// SetInterval implements addrstate.Registry.
func (c *client) SetInterval(ctx context.Context, userID int64, interval time.Duration) error {
	return c.conn.HSet(ctx, c.scanConfigKey(userID), "interval_ms", interval.Milliseconds()).Err()
}

// SetQuota implements addrstate.Registry.
func (c *client) SetQuota(ctx context.Context, userID int64, quota int) error {
	return c.conn.HSet(ctx, c.scanConfigKey(userID), "quota", quota).Err()
}
