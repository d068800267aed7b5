package memory

import (
	"context"
	"time"

	"github.com/velopay/backend/internal/domain"
)

type IdempotencyRepo struct {
	s *Store
}

func NewIdempotencyRepo(s *Store) *IdempotencyRepo { return &IdempotencyRepo{s: s} }

// Put treats an expired mapping as absent: the new key replaces it and the
// request is accepted as fresh.
func (r *IdempotencyRepo) Put(ctx context.Context, key *domain.IdempotencyKey) (*domain.IdempotencyKey, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.idemKeys[key.RequestID]; ok && existing.ExpiresAt.After(time.Now().UTC()) {
		n := *existing
		return &n, false, nil
	}
	n := *key
	r.s.idemKeys[key.RequestID] = &n
	return nil, true, nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, requestID string) (*domain.IdempotencyKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key, ok := r.s.idemKeys[requestID]
	if !ok || !key.ExpiresAt.After(time.Now().UTC()) {
		return nil, domain.ErrNotFound
	}
	n := *key
	return &n, nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, key := range r.s.idemKeys {
		if key.ExpiresAt.Before(now) {
			delete(r.s.idemKeys, id)
			n++
		}
	}
	return n, nil
}

type LedgerRepo struct {
	s *Store
}

func NewLedgerRepo(s *Store) *LedgerRepo { return &LedgerRepo{s: s} }

func (r *LedgerRepo) Append(ctx context.Context, entries []domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ledger = append(r.s.ledger, entries...)
	return nil
}

func (r *LedgerRepo) ListByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.s.ledger {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}
