// Package memory provides in-memory implementations of the domain
// repositories with the same compare-and-swap semantics as the Postgres ones.
// It backs the service tests and local development when no database is
// configured.
package memory

import (
	"sync"

	"github.com/velopay/backend/internal/domain"
)

type Store struct {
	mu sync.Mutex

	accounts    map[string]*domain.MultiCurrencyAccount
	accountOps  map[string]bool
	sagas       map[string]*domain.PaymentSaga
	locks       map[string]*domain.FXRateLock
	rates       map[string]*domain.ExchangeRate
	conversions map[string]*domain.FXConversion
	ledger      []domain.LedgerEntry
	outbox      []domain.OutboxEvent
	outboxSeq   int64
	inbox       map[string]*domain.InboxEvent
	inboxSeq    int64
	idemKeys    map[string]*domain.IdempotencyKey
}

func NewStore() *Store {
	return &Store{
		accounts:    map[string]*domain.MultiCurrencyAccount{},
		accountOps:  map[string]bool{},
		sagas:       map[string]*domain.PaymentSaga{},
		locks:       map[string]*domain.FXRateLock{},
		rates:       map[string]*domain.ExchangeRate{},
		conversions: map[string]*domain.FXConversion{},
		inbox:       map[string]*domain.InboxEvent{},
		idemKeys:    map[string]*domain.IdempotencyKey{},
	}
}

func cloneAccount(a *domain.MultiCurrencyAccount) *domain.MultiCurrencyAccount {
	n := *a
	n.Balances = make(map[string]domain.CurrencyBalance, len(a.Balances))
	for c, b := range a.Balances {
		n.Balances[c] = b
	}
	return &n
}

func cloneSaga(s *domain.PaymentSaga) *domain.PaymentSaga {
	n := *s
	return &n
}

func cloneLock(l *domain.FXRateLock) *domain.FXRateLock {
	n := *l
	return &n
}
