package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/validator"
)

// registration is the validated input of RegisterAddress.
type registration struct {
	UserID  int64  `validate:"gt=0"`
	Address string `validate:"required,eth_addr"`
	Label   string `validate:"max=64"`
}

func (s *service) RegisterAddress(ctx context.Context, userID int64, address, label string) (addrstate.AddressRecord, error) {
	in := registration{UserID: userID, Address: addrstate.NormalizeAddress(address), Label: label}
	if err := validator.Validate(in); err != nil {
		return addrstate.AddressRecord{}, err
	}

	cfg, err := s.scanConfig(ctx, userID)
	if err != nil {
		return addrstate.AddressRecord{}, err
	}

	// The count and the insert are separate calls; two concurrent
	// registrations by one user may both pass the check.
	count, err := s.storage.CountActiveAddresses(ctx, userID)
	if err != nil {
		return addrstate.AddressRecord{}, fmt.Errorf("count addresses: %w", err)
	}
	if count >= cfg.Quota {
		return addrstate.AddressRecord{}, fmt.Errorf("%w: %d of %d", ErrQuotaExceeded, count, cfg.Quota)
	}

	rec := addrstate.AddressRecord{
		UserID:    in.UserID,
		Address:   in.Address,
		Label:     in.Label,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.RegisterAddress(ctx, rec); err != nil {
		return addrstate.AddressRecord{}, err
	}

	return rec, nil
}

func (s *service) RemoveAddress(ctx context.Context, userID int64, address string) error {
	address = addrstate.NormalizeAddress(address)
	if err := validator.Var(address, "required,eth_addr"); err != nil {
		return err
	}

	return s.storage.RemoveAddress(ctx, userID, address)
}

func (s *service) SetInterval(ctx context.Context, userID int64, interval time.Duration) error {
	if interval < MinInterval {
		return fmt.Errorf("%w: %s is below %s", ErrIntervalTooShort, interval, MinInterval)
	}

	return s.storage.SetInterval(ctx, userID, interval)
}

func (s *service) SetQuota(ctx context.Context, userID int64, quota int) error {
	if quota <= 0 {
		return ErrInvalidQuota
	}

	return s.storage.SetQuota(ctx, userID, quota)
}

func (s *service) List(ctx context.Context, userID int64) ([]addrstate.AddressRecord, addrstate.ScanConfig, error) {
	cfg, err := s.scanConfig(ctx, userID)
	if err != nil {
		return nil, addrstate.ScanConfig{}, err
	}

	records, err := s.storage.UserAddresses(ctx, userID)
	if err != nil {
		return nil, addrstate.ScanConfig{}, fmt.Errorf("list addresses: %w", err)
	}

	return records, cfg, nil
}

// scanConfig returns the user's effective config.
func (s *service) scanConfig(ctx context.Context, userID int64) (addrstate.ScanConfig, error) {
	cfg, err := s.storage.ScanConfig(ctx, userID)
	if err != nil {
		return addrstate.ScanConfig{}, fmt.Errorf("load scan config: %w", err)
	}
	return cfg.WithDefaults(s.defaults), nil
}
