package payment

import (
	"math/big"
	"testing"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"100", 8, "10000000000"},
		{"1.5", 8, "150000000"},
		{"0.00000001", 8, "1"},
		{".25", 2, "25"},
		{"7.", 2, "700"},
		{"007.10", 2, "710"},
		{"1.50000", 2, "150"},
		{"0", 8, "0"},
		{"12", 0, "12"},
		{" 3.2 ", 1, "32"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals, config.PrecisionReject)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToBaseUnits_Invalid(t *testing.T) {
	tests := []struct {
		amount string
		want   errors.ErrorCode
	}{
		{"", errors.ErrCodeInvalidAmount},
		{"   ", errors.ErrCodeInvalidAmount},
		{"-1", errors.ErrCodeInvalidAmount},
		{"+1", errors.ErrCodeInvalidAmount},
		{"1e8", errors.ErrCodeInvalidAmount},
		{"1.2.3", errors.ErrCodeInvalidAmount},
		{".", errors.ErrCodeInvalidAmount},
		{"1,000", errors.ErrCodeInvalidAmount},
		{"0.001", errors.ErrCodeExcessPrecision},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			_, err := ToBaseUnits(tt.amount, 2, config.PrecisionReject)
			assert.Equal(t, tt.want, errors.CodeOf(err))
		})
	}
}

func TestToBaseUnits_TruncatePolicy(t *testing.T) {
	got, err := ToBaseUnits("1.239", 2, config.PrecisionTruncate)
	require.NoError(t, err)
	assert.Equal(t, "123", got.String())

	got, err = ToBaseUnits("0.009", 2, config.PrecisionTruncate)
	require.NoError(t, err)
	assert.Equal(t, "0", got.String())
}

func TestToBaseUnits_NeverRoundsUp(t *testing.T) {
	amounts := []string{"0.1", "1.999999999", "123.456789", "5", "0.0000001", "99999999999999999999.123456789"}

	for _, amount := range amounts {
		for _, decimals := range []uint8{0, 2, 6, 8, 18} {
			units, err := ToBaseUnits(amount, decimals, config.PrecisionTruncate)
			require.NoError(t, err)

			again, err := ToBaseUnits(amount, decimals, config.PrecisionTruncate)
			require.NoError(t, err)
			assert.Equal(t, units.String(), again.String())

			back, ok := new(big.Rat).SetString(FromBaseUnits(units, decimals))
			require.True(t, ok)
			orig, ok := new(big.Rat).SetString(amount)
			require.True(t, ok)
			assert.LessOrEqual(t, back.Cmp(orig), 0, "%s at %d decimals", amount, decimals)
		}
	}
}

func TestToBaseUnits_Monotonic(t *testing.T) {
	ordered := []string{"0", "0.001", "0.01", "0.019", "0.5", "1", "1.0001", "10"}

	prev := big.NewInt(-1)
	for _, amount := range ordered {
		units, err := ToBaseUnits(amount, 2, config.PrecisionTruncate)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, units.Cmp(prev), 0, amount)
		prev = units
	}
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FromBaseUnits(big.NewInt(150000000), 8))
	assert.Equal(t, "0.00000001", FromBaseUnits(big.NewInt(1), 8))
	assert.Equal(t, "100", FromBaseUnits(big.NewInt(10000), 2))
	assert.Equal(t, "0", FromBaseUnits(big.NewInt(0), 8))
	assert.Equal(t, "42", FromBaseUnits(big.NewInt(42), 0))
}
