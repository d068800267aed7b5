package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RateLockStatus string

const (
	RateLockActive  RateLockStatus = "ACTIVE"
	RateLockUsed    RateLockStatus = "USED"
	RateLockExpired RateLockStatus = "EXPIRED"
)

// FXRateLock freezes a quoted rate for a bounded duration. A lock transitions
// ACTIVE -> USED or ACTIVE -> EXPIRED exactly once; a USED lock can never
// expire or be reused.
type FXRateLock struct {
	ID            string          `json:"id"`
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	Rate          decimal.Decimal `json:"lockedRate"`
	Spread        decimal.Decimal `json:"spread"`
	Provider      string          `json:"provider"`
	AccountID     string          `json:"accountId"`
	CorrelationID string          `json:"correlationId"`
	Status        RateLockStatus  `json:"status"`
	LockedAt      time.Time       `json:"lockedAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	UsedAt        time.Time       `json:"usedAt,omitzero"`
	Version       int64           `json:"version"`
}

func NewFXRateLock(base, quote string, rate, spread decimal.Decimal, provider, accountID, correlationID string, duration time.Duration) *FXRateLock {
	now := time.Now().UTC()
	return &FXRateLock{
		ID:            uuid.New().String(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Rate:          rate,
		Spread:        spread,
		Provider:      provider,
		AccountID:     accountID,
		CorrelationID: correlationID,
		Status:        RateLockActive,
		LockedAt:      now,
		ExpiresAt:     now.Add(duration),
		Version:       1,
	}
}

// EffectiveRate is the rate actually applied to conversions: locked rate minus
// the provider spread.
func (l *FXRateLock) EffectiveRate() decimal.Decimal {
	return l.Rate.Sub(l.Spread)
}

func (l *FXRateLock) Usable(now time.Time) bool {
	return l.Status == RateLockActive && now.Before(l.ExpiresAt)
}

// Use consumes the lock. After this the lock's rate and spread are the
// authoritative conversion factors for the saga that consumed it.
func (l *FXRateLock) Use(now time.Time) error {
	if !l.Usable(now) {
		return fmt.Errorf("%w: lock %s is %s (expires %s)", ErrRateLockNotUsable, l.ID, l.Status, l.ExpiresAt.Format(time.RFC3339))
	}
	l.Status = RateLockUsed
	l.UsedAt = now
	return nil
}

// Expire is allowed only from ACTIVE.
func (l *FXRateLock) Expire() error {
	if l.Status != RateLockActive {
		return fmt.Errorf("%w: cannot expire lock %s in %s", ErrInvalidTransition, l.ID, l.Status)
	}
	l.Status = RateLockExpired
	return nil
}

// Convert applies the effective rate to a base-currency minor-unit amount and
// returns quote-currency minor units, truncating toward zero. Truncation (not
// rounding) avoids manufacturing value across many conversions. The amount is
// normalized through display units so pairs with different minor-unit
// exponents convert correctly.
func (l *FXRateLock) Convert(fromMinor int64) int64 {
	fromExp := CurrencyExponent(l.BaseCurrency)
	toExp := CurrencyExponent(l.QuoteCurrency)
	return decimal.New(fromMinor, -fromExp).Mul(l.EffectiveRate()).Shift(toExp).IntPart()
}
