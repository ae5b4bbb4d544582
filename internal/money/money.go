// Package money converts between decimal amounts as the gateway and
// configuration express them and the int64 minor units stored locally.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrPrecision       = errors.New("amount_precision_exceeded")
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {},
	"KMF": {}, "KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency reports whether the code looks like an ISO 4217 alpha code.
func ValidCurrency(currency string) bool {
	currency = NormalizeCurrency(currency)
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Exponent returns the number of minor digits for the currency.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinor converts a decimal amount into minor units. Amounts carrying more
// precision than the currency allows are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	if !ValidCurrency(currency) {
		return 0, ErrInvalidCurrency
	}
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	shifted := amount.Shift(Exponent(currency))
	if !shifted.IsInteger() {
		return 0, ErrPrecision
	}
	return shifted.IntPart(), nil
}

// Parse converts a decimal string such as "49.99" into minor units.
func Parse(amount, currency string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return ToMinor(value, currency)
}

// FromMinor converts minor units back into a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units with the currency's fixed number of digits.
func Format(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency))
}
