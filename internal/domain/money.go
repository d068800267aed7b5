package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// currencyExponents maps ISO 4217 codes to their minor-unit exponent.
var currencyExponents = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"NGN": 2,
	"CAD": 2,
	"CHF": 2,
	"JPY": 0,
	"KWD": 3,
	"BHD": 3,
}

// Money is a fixed-point amount in a currency's minor units (e.g. cents).
type Money struct {
	MinorUnits int64  `json:"minorUnits"`
	Currency   string `json:"currency"`
}

func NewMoney(minorUnits int64, currency string) (Money, error) {
	if minorUnits < 0 {
		return Money{}, ErrInvalidAmount
	}
	if _, ok := currencyExponents[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return Money{MinorUnits: minorUnits, Currency: currency}, nil
}

// MustMoney is for fixed amounts known to be valid, e.g. in tests and seeds.
func MustMoney(minorUnits int64, currency string) Money {
	m, err := NewMoney(minorUnits, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) IsZero() bool { return m.MinorUnits == 0 }

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{MinorUnits: m.MinorUnits + other.MinorUnits, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	if other.MinorUnits > m.MinorUnits {
		return Money{}, ErrInsufficientFunds
	}
	return Money{MinorUnits: m.MinorUnits - other.MinorUnits, Currency: m.Currency}, nil
}

// Decimal returns the display value, e.g. 1050 USD minor units -> 10.50.
func (m Money) Decimal() decimal.Decimal {
	exp := currencyExponents[m.Currency]
	return decimal.New(m.MinorUnits, -exp)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(currencyExponents[m.Currency]) + " " + m.Currency
}

// MoneyFromDecimal converts a display amount to minor units with half-up
// rounding at the currency's exponent.
func MoneyFromDecimal(value decimal.Decimal, currency string) (Money, error) {
	exp, ok := currencyExponents[currency]
	if !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	minor := value.Round(exp).Shift(exp).IntPart()
	return NewMoney(minor, currency)
}

// IsSupportedCurrency reports whether the code has a known minor-unit exponent.
func IsSupportedCurrency(code string) bool {
	_, ok := currencyExponents[code]
	return ok
}

// CurrencyExponent returns the minor-unit exponent for a supported currency.
func CurrencyExponent(code string) int32 {
	return currencyExponents[code]
}
