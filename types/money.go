// Package types provides the value types shared across Tally.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary value in the smallest currency unit.
// Arithmetic on Money is integer-only; fractional results (percentages,
// fractional quantities) go through decimal and are rounded half away from
// zero back to minor units.
//
// Examples:
//   - USD(4900) = $49.00 (4900 cents)
//   - EUR(19900) = €199.00
//   - JPY(100) = ¥100
type Money struct {
	Amount   int64  `json:"amount"`   // minor units (cents, pence, ...)
	Currency string `json:"currency"` // ISO 4217 lowercase: "usd", "eur"
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// JPY creates a Money value in Japanese Yen (no decimal).
func JPY(yen int64) Money { return Money{Amount: yen, Currency: "jpy"} }

// IRR creates a Money value in Iranian Rials (no decimal).
func IRR(rials int64) Money { return Money{Amount: rials, Currency: "irr"} }

// New creates a Money value from minor units in the given currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Currency: NormalizeCurrency(currency)} }

// NormalizeCurrency lowercases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}

// FromDecimal converts a major-unit decimal ("12.345") into Money, rounding
// half away from zero to the currency's minor unit.
func FromDecimal(major decimal.Decimal, currency string) Money {
	currency = NormalizeCurrency(currency)
	places := int32(currencyDecimals(currency))
	minor := major.Round(places).Shift(places)
	return Money{Amount: minor.IntPart(), Currency: currency}
}

// Parse parses a major-unit string such as "49.99" into Money.
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d, currency), nil
}

// Decimal returns the value in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Arithmetic

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by an integer quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// MultiplyDecimal multiplies by a fractional quantity and rounds half away
// from zero to minor units.
func (m Money) MultiplyDecimal(qty decimal.Decimal) Money {
	return Money{
		Amount:   decimal.NewFromInt(m.Amount).Mul(qty).Round(0).IntPart(),
		Currency: m.Currency,
	}
}

// Percent returns pct percent of m, rounded half away from zero.
// Percent(decimal.NewFromInt(15)) of USD(1000) is USD(150).
func (m Money) Percent(pct decimal.Decimal) Money {
	return m.MultiplyDecimal(pct.Div(decimal.NewFromInt(100)))
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return Money{Amount: -m.Amount, Currency: m.Currency}
	}
	return m
}

// Comparison

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// SameCurrency reports whether both values use the same currency.
func (m Money) SameCurrency(other Money) bool { return m.Currency == other.Currency }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// GreaterThan returns true if this Money is greater than other. Panics if currencies don't match.
func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount > other.Amount
}

// Min returns the smaller of two Money values. Panics if currencies don't match.
func (m Money) Min(other Money) Money {
	m.assertSameCurrency(other)
	if m.Amount < other.Amount {
		return m
	}
	return other
}

// Max returns the larger of two Money values. Panics if currencies don't match.
func (m Money) Max(other Money) Money {
	m.assertSameCurrency(other)
	if m.Amount > other.Amount {
		return m
	}
	return other
}

// Formatting

// FormatMajor returns the major unit string without currency symbol:
// "49.00" for USD(4900), "100" for JPY(100).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = NormalizeCurrency(raw.Currency)
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"cad": "C$",
	"aud": "A$",
	"chf": "CHF ",
	"irr": "IRR ",
}

func currencySymbol(currency string) string {
	if sym, ok := currencySymbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
	"clp": true,
	"irr": true,
}

// CurrencyDecimals returns the number of minor-unit digits for a currency.
func CurrencyDecimals(currency string) int { return currencyDecimals(currency) }

func currencyDecimals(currency string) int {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// Sum calculates the sum of Money values in currency. All values must share it.
func Sum(currency string, values ...Money) Money {
	result := Zero(currency)
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
