package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ConversionStatus string

const (
	ConversionCompleted ConversionStatus = "COMPLETED"
	ConversionReversed  ConversionStatus = "REVERSED"
)

// FXConversion is the audit record of one executed conversion. When a saga
// compensates after conversion the record is marked REVERSED; the money
// reversal itself always happens in the source currency for the original
// amount, never by arithmetically inverting the conversion.
type FXConversion struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"accountId"`
	CorrelationID   string           `json:"correlationId"`
	RateLockID      string           `json:"rateLockId"`
	FromCurrency    string           `json:"fromCurrency"`
	ToCurrency      string           `json:"toCurrency"`
	FromAmountMinor int64            `json:"fromAmountMinor"`
	ToAmountMinor   int64            `json:"toAmountMinor"`
	Rate            decimal.Decimal  `json:"rate"`
	Spread          decimal.Decimal  `json:"spread"`
	Provider        string           `json:"provider"`
	Status          ConversionStatus `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func NewFXConversion(lock *FXRateLock, correlationID string, fromMinor, toMinor int64) *FXConversion {
	return &FXConversion{
		ID:              uuid.New().String(),
		AccountID:       lock.AccountID,
		CorrelationID:   correlationID,
		RateLockID:      lock.ID,
		FromCurrency:    lock.BaseCurrency,
		ToCurrency:      lock.QuoteCurrency,
		FromAmountMinor: fromMinor,
		ToAmountMinor:   toMinor,
		Rate:            lock.Rate,
		Spread:          lock.Spread,
		Provider:        lock.Provider,
		Status:          ConversionCompleted,
		CreatedAt:       time.Now().UTC(),
	}
}

// ExchangeRate is the last known rate for a pair, persisted so the rate-lock
// service can fall back to it when every live source is unavailable.
type ExchangeRate struct {
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	Rate          decimal.Decimal `json:"rate"`
	Spread        decimal.Decimal `json:"spread"`
	Provider      string          `json:"provider"`
	FetchedAt     time.Time       `json:"fetchedAt"`
}

// LedgerEntry is one side of a recorded payment: a debit against the source or
// a credit to the destination, with the running balance after posting.
type LedgerEntry struct {
	ID           string    `json:"id"`
	PaymentID    string    `json:"paymentId"`
	AccountID    string    `json:"accountId"`
	Direction    string    `json:"direction"` // DEBIT or CREDIT
	AmountMinor  int64     `json:"amountMinor"`
	Currency     string    `json:"currency"`
	BalanceAfter int64     `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}
