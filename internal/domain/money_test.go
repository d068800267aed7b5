package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewMoney(t *testing.T) {
	t.Run("valid amount", func(t *testing.T) {
		m, err := NewMoney(1050, "USD")
		assert.NoError(t, err)
		assert.Equal(t, int64(1050), m.MinorUnits)
		assert.Equal(t, "USD", m.Currency)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := NewMoney(-1, "USD")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown currency rejected", func(t *testing.T) {
		_, err := NewMoney(100, "XXX")
		assert.ErrorIs(t, err, ErrUnknownCurrency)
	})
}

func TestMoney_AddSub(t *testing.T) {
	a := MustMoney(1000, "USD")
	b := MustMoney(250, "USD")

	sum, err := a.Add(b)
	assert.NoError(t, err)
	assert.Equal(t, int64(1250), sum.MinorUnits)

	diff, err := a.Sub(b)
	assert.NoError(t, err)
	assert.Equal(t, int64(750), diff.MinorUnits)

	t.Run("currency mismatch", func(t *testing.T) {
		eur := MustMoney(100, "EUR")
		_, err := a.Add(eur)
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
		_, err = a.Sub(eur)
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
	})

	t.Run("subtraction below zero", func(t *testing.T) {
		_, err := b.Sub(a)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestMoney_Decimal(t *testing.T) {
	assert.Equal(t, "10.50 USD", MustMoney(1050, "USD").String())
	assert.Equal(t, "147 JPY", MustMoney(147, "JPY").String())
	assert.Equal(t, "1.250 KWD", MustMoney(1250, "KWD").String())
}

func TestMoneyFromDecimal(t *testing.T) {
	cases := []struct {
		display  string
		currency string
		want     int64
	}{
		{"10.50", "USD", 1050},
		{"10.505", "USD", 1051}, // half-up
		{"10.504", "USD", 1050},
		{"147", "JPY", 147},
		{"147.5", "JPY", 148},
		{"1.2505", "KWD", 1251}, // exponent 3, half-up at 4th place
	}
	for _, tc := range cases {
		value, err := decimal.NewFromString(tc.display)
		assert.NoError(t, err)
		m, err := MoneyFromDecimal(value, tc.currency)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, m.MinorUnits, "%s %s", tc.display, tc.currency)
	}
}

func TestMoney_RoundTrip(t *testing.T) {
	// Minor units -> display -> minor units is lossless.
	for _, minor := range []int64{0, 1, 99, 100, 1050, 999999999} {
		m := MustMoney(minor, "EUR")
		back, err := MoneyFromDecimal(m.Decimal(), "EUR")
		assert.NoError(t, err)
		assert.Equal(t, minor, back.MinorUnits)
	}
}
