package domain

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount is not a valid number")
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrAmountPrecision   = errors.New("amount has more decimals than the currency allows")
	ErrAmountOutOfRange  = errors.New("amount is too large")
)

var (
	maxMinorUnits          = decimal.NewFromInt(math.MaxInt64)
	zeroExponentCurrencies = map[string]struct{}{
		"XOF": {}, "XAF": {}, "GNF": {}, "RWF": {}, "JPY": {}, "KRW": {},
	}
)

// MinorUnitExponent returns the number of decimals a currency carries.
func MinorUnitExponent(currency string) int32 {
	if _, ok := zeroExponentCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// ParseAmount converts a decimal string in major units into minor units.
func ParseAmount(raw, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrNonPositiveAmount
	}
	minor := d.Shift(MinorUnitExponent(currency))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if minor.GreaterThan(maxMinorUnits) {
		return 0, ErrAmountOutOfRange
	}
	return minor.IntPart(), nil
}

// AddAmount sums two non-negative minor-unit amounts, failing instead of wrapping.
func AddAmount(total, amount int64) (int64, error) {
	if amount > math.MaxInt64-total {
		return total, ErrAmountOutOfRange
	}
	return total + amount, nil
}

// FormatAmount renders minor units as the decimal string used on the wire.
func FormatAmount(minor int64, currency string) string {
	exp := MinorUnitExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

// Percent returns part/whole as a percentage rounded to two decimals.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2).
		InexactFloat64()
}
