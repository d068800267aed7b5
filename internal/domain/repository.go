package domain

import (
	"context"
	"time"
)

// Every Update below is a compare-and-swap on (id, expectedVersion): a
// concurrent writer having bumped the version surfaces as ErrVersionConflict
// and the caller retries from a fresh read. No locks are held across external
// calls.

// AccountRepository stores multi-currency accounts. opID makes balance
// mutations idempotent: re-applying an already recorded operation id returns
// ErrDuplicateOperation without touching state.
type AccountRepository interface {
	Create(ctx context.Context, account *MultiCurrencyAccount) error
	GetByID(ctx context.Context, id string) (*MultiCurrencyAccount, error)
	GetByNumber(ctx context.Context, accountNumber string) (*MultiCurrencyAccount, error)
	Update(ctx context.Context, account *MultiCurrencyAccount, expectedVersion int64, opID string) error
}

// SagaRepository stores payment sagas. Update persists the saga snapshot and
// appends the given outbox events in the same unit of work, so a step's state
// change and its event are made durable together or not at all.
type SagaRepository interface {
	Create(ctx context.Context, saga *PaymentSaga, events ...OutboxEvent) error
	GetByID(ctx context.Context, id string) (*PaymentSaga, error)
	GetByRequestID(ctx context.Context, requestID string) (*PaymentSaga, error)
	Update(ctx context.Context, saga *PaymentSaga, expectedVersion int64, events ...OutboxEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*PaymentSaga, error)
}

type RateLockRepository interface {
	Create(ctx context.Context, lock *FXRateLock) error
	GetByID(ctx context.Context, id string) (*FXRateLock, error)
	Update(ctx context.Context, lock *FXRateLock, expectedVersion int64) error
	// ListActiveExpiredBefore feeds the expiry sweep.
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]*FXRateLock, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RateRepository interface {
	Save(ctx context.Context, rate *ExchangeRate) error
	Latest(ctx context.Context, base, quote string) (*ExchangeRate, error)
}

type ConversionRepository interface {
	Create(ctx context.Context, conv *FXConversion) error
	GetByID(ctx context.Context, id string) (*FXConversion, error)
	MarkReversed(ctx context.Context, id string) error
}

type LedgerRepository interface {
	Append(ctx context.Context, entries []LedgerEntry) error
	ListByPayment(ctx context.Context, paymentID string) ([]LedgerEntry, error)
}

type OutboxRepository interface {
	// FetchUnpublished returns pending events in creation order, skipping
	// dead-lettered ones.
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string, deadLettered bool) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type InboxRepository interface {
	// Insert persists a newly seen event and reports created=false when the
	// event id already exists (duplicate delivery).
	Insert(ctx context.Context, event *InboxEvent) (created bool, err error)
	Get(ctx context.Context, eventID string) (*InboxEvent, error)
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, eventID string, errMsg string) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type IdempotencyRepository interface {
	// Put stores the mapping unless the request id is already present, in
	// which case the existing mapping is returned with created=false.
	Put(ctx context.Context, key *IdempotencyKey) (existing *IdempotencyKey, created bool, err error)
	Get(ctx context.Context, requestID string) (*IdempotencyKey, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
