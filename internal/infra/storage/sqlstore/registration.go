package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
)

const registrationColumns = `user_id, address, label, active, created_at`

// RegisterAddress implements addrstate.Registry. The conditional upsert makes
// the duplicate check and the write a single statement.
func (s *store) RegisterAddress(ctx context.Context, rec addrstate.AddressRecord) error {
	res, err := s.exec(ctx, `
		INSERT INTO address_registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, TRUE, ?)
		ON CONFLICT (user_id, address) DO UPDATE SET
			label = excluded.label,
			active = TRUE,
			created_at = excluded.created_at
		WHERE address_registrations.active = FALSE
	`, rec.UserID, addrstate.NormalizeAddress(rec.Address), rec.Label, rec.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("register address: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return addrstate.ErrAlreadyRegistered
	}
	return nil
}

// RemoveAddress implements addrstate.Registry.
func (s *store) RemoveAddress(ctx context.Context, userID int64, address string) error {
	n, err := s.deactivate(ctx, userID, address)
	if err != nil {
		return err
	}
	if n == 0 {
		return addrstate.ErrAddressNotFound
	}
	return nil
}

// DeactivateAddress implements addrstate.Store.
func (s *store) DeactivateAddress(ctx context.Context, userID int64, address string) error {
	_, err := s.deactivate(ctx, userID, address)
	return err
}

func (s *store) deactivate(ctx context.Context, userID int64, address string) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE address_registrations SET active = FALSE
		WHERE user_id = ? AND address = ? AND active = TRUE
	`, userID, addrstate.NormalizeAddress(address))
	if err != nil {
		return 0, fmt.Errorf("deactivate address: %w", err)
	}
	return res.RowsAffected()
}

// CountActiveAddresses implements addrstate.Registry.
func (s *store) CountActiveAddresses(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM address_registrations WHERE user_id = ? AND active = TRUE
	`), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count addresses: %w", err)
	}
	return n, nil
}

// UserAddresses implements addrstate.Registry.
func (s *store) UserAddresses(ctx context.Context, userID int64) ([]addrstate.AddressRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+registrationColumns+` FROM address_registrations
		WHERE user_id = ? AND active = TRUE
		ORDER BY created_at, address
	`, userID)
}

// ActiveAddresses implements addrstate.Store.
func (s *store) ActiveAddresses(ctx context.Context) ([]addrstate.AddressRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+registrationColumns+` FROM address_registrations
		WHERE active = TRUE
		ORDER BY created_at, user_id, address
	`)
}

func (s *store) queryRecords(ctx context.Context, query string, args ...any) ([]addrstate.AddressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var records []addrstate.AddressRecord
	for rows.Next() {
		var (
			rec       addrstate.AddressRecord
			createdAt int64
		)
		if err := rows.Scan(&rec.UserID, &rec.Address, &rec.Label, &rec.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		rec.CreatedAt = time.UnixMicro(createdAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ScanConfig implements addrstate.Store and addrstate.Registry.
func (s *store) ScanConfig(ctx context.Context, userID int64) (addrstate.ScanConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var (
		intervalMS int64
		quota      int
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT interval_ms, quota FROM scan_configs WHERE user_id = ?
	`), userID).Scan(&intervalMS, &quota)
	if errors.Is(err, sql.ErrNoRows) {
		return addrstate.ScanConfig{}, nil
	}
	if err != nil {
		return addrstate.ScanConfig{}, fmt.Errorf("load scan config: %w", err)
	}

	return addrstate.ScanConfig{
		Interval: time.Duration(intervalMS) * time.Millisecond,
		Quota:    quota,
	}, nil
}

// SetInterval implements addrstate.Registry.
func (s *store) SetInterval(ctx context.Context, userID int64, interval time.Duration) error {
	_, err := s.exec(ctx, `
		INSERT INTO scan_configs (user_id, interval_ms) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET interval_ms = excluded.interval_ms
	`, userID, interval.Milliseconds())
	if err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	return nil
}

// SetQuota implements addrstate.Registry.
func (s *store) SetQuota(ctx context.Context, userID int64, quota int) error {
	_, err := s.exec(ctx, `
		INSERT INTO scan_configs (user_id, quota) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET quota = excluded.quota
	`, userID, quota)
	if err != nil {
		return fmt.Errorf("set quota: %w", err)
	}
	return nil
}
