package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw      string
		currency string
		want     int64
	}{
		{"15000", "XOF", 15000},
		{" 15000 ", "xof", 15000},
		{"15000.00", "XOF", 15000},
		{"12.34", "EUR", 1234},
		{"12.3", "USD", 1230},
		{"7", "EUR", 700},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.raw, tc.currency)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseAmountErrors(t *testing.T) {
	_, err := ParseAmount("abc", "XOF")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("0", "XOF")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
	_, err = ParseAmount("-1", "EUR")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
	_, err = ParseAmount("10.5", "XOF")
	assert.ErrorIs(t, err, ErrAmountPrecision)
	_, err = ParseAmount("1.001", "EUR")
	assert.ErrorIs(t, err, ErrAmountPrecision)
	_, err = ParseAmount("99999999999999999999", "XOF")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "15000", FormatAmount(15000, "XOF"))
	assert.Equal(t, "12.34", FormatAmount(1234, "EUR"))
	assert.Equal(t, "0.05", FormatAmount(5, "USD"))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 0.0, Percent(0, 3))
	assert.Equal(t, 33.33, Percent(1, 3))
	assert.Equal(t, 66.67, Percent(2, 3))
	assert.Equal(t, 100.0, Percent(3, 3))
}

func TestAddAmountRejectsOverflow(t *testing.T) {
	total, err := AddAmount(9000000000000000000, 223372036854775807)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), total)

	total, err = AddAmount(9000000000000000000, 9000000000000000000)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
	assert.Equal(t, int64(9000000000000000000), total)
}
