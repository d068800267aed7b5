package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUSDEURLock(rate, spread string, duration time.Duration) *FXRateLock {
	r, _ := decimal.NewFromString(rate)
	s, _ := decimal.NewFromString(spread)
	return NewFXRateLock("USD", "EUR", r, s, "test", "acct-1", "corr-1", duration)
}

func TestFXRateLock_EffectiveRate(t *testing.T) {
	lock := newUSDEURLock("0.85", "0.0008", time.Minute)
	assert.True(t, lock.EffectiveRate().Equal(decimal.RequireFromString("0.8492")))
}

func TestFXRateLock_Convert(t *testing.T) {
	t.Run("truncates toward zero", func(t *testing.T) {
		lock := newUSDEURLock("0.85", "0.0008", time.Minute)

		// 10000.00 USD at effective 0.8492 -> 8492.00 EUR exactly.
		assert.Equal(t, int64(849200), lock.Convert(1000000))

		// 9.99 USD * 0.8492 = 8.483508 -> 8.48 EUR, fraction dropped.
		assert.Equal(t, int64(848), lock.Convert(999))

		// 0.01 USD * 0.8492 = 0.008492 -> 0 EUR.
		assert.Equal(t, int64(0), lock.Convert(1))
	})

	t.Run("adjusts for minor unit exponents", func(t *testing.T) {
		rate := decimal.RequireFromString("147")
		spread := decimal.RequireFromString("0.15")
		lock := NewFXRateLock("USD", "JPY", rate, spread, "test", "acct-1", "corr-1", time.Minute)

		// 100.00 USD * 146.85 = 14685 JPY (exponent 0).
		assert.Equal(t, int64(14685), lock.Convert(10000))
	})
}

func TestFXRateLock_SingleUse(t *testing.T) {
	lock := newUSDEURLock("0.85", "0.0008", time.Minute)
	now := time.Now().UTC()

	require.True(t, lock.Usable(now))
	require.NoError(t, lock.Use(now))
	assert.Equal(t, RateLockUsed, lock.Status)
	assert.False(t, lock.UsedAt.IsZero())

	t.Run("second use rejected", func(t *testing.T) {
		err := lock.Use(now)
		assert.ErrorIs(t, err, ErrRateLockNotUsable)
	})

	t.Run("used lock cannot expire", func(t *testing.T) {
		err := lock.Expire()
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestFXRateLock_Expiry(t *testing.T) {
	lock := newUSDEURLock("0.85", "0.0008", -time.Second)
	now := time.Now().UTC()

	assert.False(t, lock.Usable(now))
	assert.ErrorIs(t, lock.Use(now), ErrRateLockNotUsable)

	assert.NoError(t, lock.Expire())
	assert.Equal(t, RateLockExpired, lock.Status)

	t.Run("expired lock stays expired", func(t *testing.T) {
		assert.ErrorIs(t, lock.Expire(), ErrInvalidTransition)
		assert.ErrorIs(t, lock.Use(now), ErrRateLockNotUsable)
	})
}
