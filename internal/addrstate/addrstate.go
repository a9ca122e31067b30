// Package addrstate defines the domain model shared by every component of
// the address monitor: the addresses users register, the last known state
// of each address, the change events derived from comparing states, and the
// storage contracts the core depends on.
package addrstate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot was ever stored for an address.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrAddressNotFound is returned when a user does not actively watch an address.
	ErrAddressNotFound = errors.New("address not found")

	// ErrAlreadyRegistered is returned when a user registers an address they already watch.
	ErrAlreadyRegistered = errors.New("address already registered")
)

// Asset identifies a balance tracked for an address.
type Asset string

const (
	// AssetHYPE is the HyperEVM native balance, in whole HYPE.
	AssetHYPE Asset = "HYPE"

	// AssetUSDC is the Hyperliquid L1 perp account value, in USDC.
	AssetUSDC Asset = "USDC"
)

// Assets lists every asset a fetched snapshot carries.
var Assets = []Asset{AssetHYPE, AssetUSDC}

// NormalizeAddress returns the canonical form used as storage key: trimmed and lower case.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// AddressRecord is one user's registration of an address.
type AddressRecord struct {
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the last known state of an address. Balances always hold an
// entry for every asset the fetcher knows about, zero included.
type Snapshot struct {
	Address     string                    `json:"address"`
	Balances    map[Asset]decimal.Decimal `json:"balances"`
	Sequence    uint64                    `json:"sequence"`
	BlockNumber uint64                    `json:"block_number"`
	FetchedAt   time.Time                 `json:"fetched_at"`
}

// Balance returns the balance of asset, zero when absent.
func (s Snapshot) Balance(asset Asset) decimal.Decimal {
	return s.Balances[asset]
}

// ScanConfig holds the scan settings for a user. Zero fields mean "use the
// process default".
type ScanConfig struct {
	Interval time.Duration `json:"interval"`
	Quota    int           `json:"quota"`
}

// WithDefaults fills the zero fields of c from defaults.
func (c ScanConfig) WithDefaults(defaults ScanConfig) ScanConfig {
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Quota <= 0 {
		c.Quota = defaults.Quota
	}
	return c
}

// ChangeKind classifies a detected change.
type ChangeKind string

const (
	KindBalanceIncrease ChangeKind = "balance_increase"
	KindBalanceDecrease ChangeKind = "balance_decrease"
	KindNewActivity     ChangeKind = "new_activity"
)

// Change is one material difference between two snapshots of the same
// address. For activity changes Asset is empty and Before/After hold the
// sequence markers.
type Change struct {
	Kind   ChangeKind      `json:"kind"`
	Asset  Asset           `json:"asset,omitempty"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
	Delta  decimal.Decimal `json:"delta"`
}

// ChangeEvent is a Change addressed to one watching user. ID is unique per
// event so at-least-once consumers can deduplicate.
type ChangeEvent struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Address    string    `json:"address"`
	Label      string    `json:"label,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	Change
}

// Store is the persistence contract the monitoring core consumes.
type Store interface {
	// ActiveAddresses returns every active registration across all users.
	ActiveAddresses(ctx context.Context) ([]AddressRecord, error)

	// Snapshot returns the current snapshot of address or ErrSnapshotNotFound.
	Snapshot(ctx context.Context, address string) (Snapshot, error)

	// PutSnapshot atomically replaces the current snapshot of s.Address.
	PutSnapshot(ctx context.Context, s Snapshot) error

	// ScanConfig returns the user's overrides; zero fields mean defaults.
	ScanConfig(ctx context.Context, userID int64) (ScanConfig, error)

	// DeactivateAddress soft-deletes a registration. Deactivating an
	// unknown or inactive registration is not an error.
	DeactivateAddress(ctx context.Context, userID int64, address string) error
}

// Registry is the persistence contract used to manage registrations.
type Registry interface {
	// RegisterAddress activates rec, returning ErrAlreadyRegistered if the
	// user already actively watches the address. A previously removed
	// registration is reactivated.
	RegisterAddress(ctx context.Context, rec AddressRecord) error

	// RemoveAddress deactivates a registration or returns ErrAddressNotFound.
	RemoveAddress(ctx context.Context, userID int64, address string) error

	// SetInterval stores the user's scan interval override.
	SetInterval(ctx context.Context, userID int64, interval time.Duration) error

	// SetQuota stores the user's address quota override.
	SetQuota(ctx context.Context, userID int64, quota int) error

	// CountActiveAddresses returns how many addresses the user actively watches.
	CountActiveAddresses(ctx context.Context, userID int64) (int, error)

	// UserAddresses returns the user's active registrations ordered by creation.
	UserAddresses(ctx context.Context, userID int64) ([]AddressRecord, error)

	// ScanConfig returns the user's overrides; zero fields mean defaults.
	ScanConfig(ctx context.Context, userID int64) (ScanConfig, error)
}
