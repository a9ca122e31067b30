package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHex_UnmarshalJSON(t *testing.T) {
	t.Run("valid lowercase hex", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0x1a"`), &h))
		assert.Equal(t, Hex("0x1a"), h)
	})

	t.Run("valid uppercase hex", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0X2F"`), &h))
		assert.Equal(t, Hex("0X2F"), h)
	})

	t.Run("values wider than 64 bits are accepted", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0x3635c9adc5dea00000000"`), &h))
	})

	t.Run("invalid inputs", func(t *testing.T) {
		for _, input := range []string{`"1a"`, `"0xZZZ"`, `"0x"`, `42`} {
			var h Hex
			assert.Error(t, json.Unmarshal([]byte(input), &h), input)
		}
	})
}

func TestHex_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Hex("0x10"))
	require.NoError(t, err)
	assert.JSONEq(t, `"0x10"`, string(data))
}

func TestHex_Uint64(t *testing.T) {
	t.Run("decodes small values", func(t *testing.T) {
		v, err := Hex("0xff").Uint64()
		require.NoError(t, err)
		assert.Equal(t, uint64(255), v)
	})

	t.Run("fails on overflow", func(t *testing.T) {
		_, err := Hex("0x10000000000000000").Uint64()
		assert.Error(t, err)
	})

	t.Run("fails on invalid input", func(t *testing.T) {
		_, err := Hex("0xZZZ").Uint64()
		assert.Error(t, err)
	})
}

func TestHex_BigInt(t *testing.T) {
	t.Run("decodes wide values", func(t *testing.T) {
		want, _ := new(big.Int).SetString("1000000000000000000000", 10)
		assert.Equal(t, 0, want.Cmp(Hex("0x3635c9adc5dea00000").BigInt()))
	})

	t.Run("invalid hex returns zero", func(t *testing.T) {
		assert.Equal(t, 0, Hex("0xZZZ").BigInt().Sign())
	})
}

func TestHex_Decimal(t *testing.T) {
	t.Run("one and a half ether in wei", func(t *testing.T) {
		// 1.5e18 wei
		got := Hex("0x14d1120d7b160000").Decimal(18)
		assert.True(t, decimal.RequireFromString("1.5").Equal(got), got.String())
	})

	t.Run("zero", func(t *testing.T) {
		assert.True(t, Hex("0x0").Decimal(18).IsZero())
	})
}
