package services

import (
	"context"
	"errors"
	"time"

	"github.com/velopay/backend/internal/domain"
)

// Collaborator contracts consumed by the saga driver. The driver depends on
// these, never on concrete clients, so each can be swapped for a remote
// service without touching the orchestration.

type BalancePort interface {
	ReserveFunds(ctx context.Context, accountID string, amount domain.Money, opID string) error
	ReleaseReservation(ctx context.Context, accountID string, amount domain.Money, opID string) error
	PostDebit(ctx context.Context, accountID string, amount domain.Money, opID string) error
	PostCredit(ctx context.Context, accountID string, amount domain.Money, opID string) error
}

type RateLockPort interface {
	Lock(ctx context.Context, base, quote, accountID, correlationID string, duration time.Duration) (*domain.FXRateLock, error)
}

type ConversionPort interface {
	Convert(ctx context.Context, lockID string, from domain.Money, correlationID string) (*domain.FXConversion, error)
	MarkReversed(ctx context.Context, conversionID string) error
}

type LedgerPort interface {
	RecordPaymentEntries(ctx context.Context, saga *domain.PaymentSaga) ([]domain.LedgerEntry, error)
}

// isTerminalFailure separates business-rule and contract failures, which must
// never be retried, from transient collaborator failures, which are retried
// with bounded backoff.
func isTerminalFailure(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidAmount,
		domain.ErrCurrencyMismatch,
		domain.ErrUnknownCurrency,
		domain.ErrInsufficientFunds,
		domain.ErrInsufficientReservation,
		domain.ErrAccountNotActive,
		domain.ErrAccountNotFound,
		domain.ErrCurrencyNotEnabled,
		domain.ErrRateLockNotUsable,
		domain.ErrRateUnavailable,
		domain.ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
