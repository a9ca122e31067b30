// Package registry manages which addresses each user watches and how often
// they are scanned. It validates input and enforces the per-user quota and
// the minimum scan interval before delegating to an addrstate.Registry.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/gabapcia/addresswatch/internal/addrstate"
)

const (
	// DefaultQuota is the number of addresses a user may watch without an override.
	DefaultQuota = 20

	// MinInterval is the shortest scan interval a user may configure.
	MinInterval = 10 * time.Second
)

var (
	// ErrQuotaExceeded is returned when a user already watches as many
	// addresses as their quota allows.
	ErrQuotaExceeded = errors.New("address quota exceeded")

	// ErrIntervalTooShort is returned by SetInterval below MinInterval.
	ErrIntervalTooShort = errors.New("scan interval too short")

	// ErrInvalidQuota is returned by SetQuota for non-positive values.
	ErrInvalidQuota = errors.New("quota must be positive")
)

// Service defines the operations exposed to front ends for managing
// watched addresses.
type Service interface {
	// RegisterAddress starts watching address for userID.
	//
	// Returns:
	//   - validator.ErrValidationFailed for malformed addresses.
	//   - ErrQuotaExceeded when the user's quota is used up.
	//   - addrstate.ErrAlreadyRegistered when the user already watches it.
	RegisterAddress(ctx context.Context, userID int64, address, label string) (addrstate.AddressRecord, error)

	// RemoveAddress stops watching address for userID. The registration is
	// soft-deleted so its snapshot history survives re-registration.
	RemoveAddress(ctx context.Context, userID int64, address string) error

	// SetInterval overrides the user's scan interval.
	SetInterval(ctx context.Context, userID int64, interval time.Duration) error

	// SetQuota overrides the user's address quota.
	SetQuota(ctx context.Context, userID int64, quota int) error

	// List returns the user's active registrations and effective scan config.
	List(ctx context.Context, userID int64) ([]addrstate.AddressRecord, addrstate.ScanConfig, error)
}

type service struct {
	storage  addrstate.Registry
	defaults addrstate.ScanConfig
	now      func() time.Time
}

var _ Service = (*service)(nil)

type config struct {
	defaults addrstate.ScanConfig
	now      func() time.Time
}

// Option customizes the service.
type Option func(*config)

// WithDefaults sets the process-wide scan defaults applied when a user has
// no override. Zero fields keep the package defaults.
func WithDefaults(defaults addrstate.ScanConfig) Option {
	return func(c *config) {
		c.defaults = defaults.WithDefaults(c.defaults)
	}
}

// WithClock replaces time.Now for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New creates a registry service backed by storage.
func New(storage addrstate.Registry, opts ...Option) *service {
	cfg := config{
		defaults: addrstate.ScanConfig{Interval: time.Minute, Quota: DefaultQuota},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		storage:  storage,
		defaults: cfg.defaults,
		now:      cfg.now,
	}
}
