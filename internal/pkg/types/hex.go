package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Hex represents a hexadecimal-encoded quantity as a string (e.g., "0x1a"),
// as returned by EVM JSON-RPC nodes. Values may exceed 64 bits (wei balances).
type Hex string

// HexFromString validates the input string and returns a Hex value if valid.
func HexFromString(s string) (Hex, error) {
	if err := validateHex(s); err != nil {
		return "", err
	}
	return Hex(s), nil
}

func parseHex(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("hex string must start with 0x")
	}

	digits := s[2:]
	if digits == "" {
		return nil, fmt.Errorf("invalid hexadecimal value: empty")
	}

	v, ok := new(big.Int).SetString(digits, 16)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid hexadecimal value: %q", s)
	}

	return v, nil
}

// validateHex checks whether a string is a valid non-negative hexadecimal number starting with "0x" or "0X".
func validateHex(s string) error {
	_, err := parseHex(s)
	return err
}

// MarshalJSON encodes the Hex as a JSON string.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(h))
}

// UnmarshalJSON parses and validates a JSON-encoded hexadecimal string.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}

	if err := validateHex(s); err != nil {
		return err
	}

	*h = Hex(s)
	return nil
}

// BigInt returns the decoded value. Invalid strings decode to zero.
func (h Hex) BigInt() *big.Int {
	v, err := parseHex(string(h))
	if err != nil {
		return new(big.Int)
	}
	return v
}

// Uint64 returns the decoded value, failing when it does not fit in 64 bits.
func (h Hex) Uint64() (uint64, error) {
	v, err := parseHex(string(h))
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex value %s overflows uint64", h)
	}
	return v.Uint64(), nil
}

// Decimal returns the value shifted right by decimals places, e.g. a wei
// amount with decimals=18 becomes an amount in whole tokens.
func (h Hex) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(h.BigInt(), -decimals)
}
