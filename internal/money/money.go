package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for unparsable or fractional-beyond-precision amounts.
var ErrInvalidAmount = errors.New("money: invalid amount")

// MaxMinorUnits bounds the absolute value of any single parsed amount.
const MaxMinorUnits int64 = 10_000_000_000_000

var maxMinor = decimal.NewFromInt(MaxMinorUnits)

// zeroDecimal lists currencies without a minor unit.
var zeroDecimal = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {},
	"mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {},
	"xof": {}, "xpf": {},
}

// NormalizeCurrency lowercases and trims an ISO code, defaulting to usd.
func NormalizeCurrency(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return "usd"
	}
	return currency
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimal[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// ToMajor converts minor units to a decimal amount in major units.
func ToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units as a fixed-point string, e.g. 10000 usd -> "100.00".
func Format(minor int64, currency string) string {
	return ToMajor(minor, currency).StringFixed(Exponent(currency))
}

// Display renders minor units with the currency code, e.g. "100.00 USD".
func Display(minor int64, currency string) string {
	return fmt.Sprintf("%s %s", Format(minor, currency), strings.ToUpper(NormalizeCurrency(currency)))
}

// Parse converts a major-unit string into minor units, rejecting sub-minor precision.
func Parse(major string, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, major)
	}
	return FromMajor(d, currency)
}

// FromMajor converts a decimal major amount into minor units.
func FromMajor(d decimal.Decimal, currency string) (int64, error) {
	scaled := d.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has too many decimal places for %s", ErrInvalidAmount, d.String(), NormalizeCurrency(currency))
	}
	if scaled.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s exceeds the maximum amount", ErrInvalidAmount, d.String())
	}
	return scaled.IntPart(), nil
}
