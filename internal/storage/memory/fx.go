package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/velopay/backend/internal/domain"
)

type RateLockRepo struct {
	s *Store
}

func NewRateLockRepo(s *Store) *RateLockRepo { return &RateLockRepo{s: s} }

func (r *RateLockRepo) Create(ctx context.Context, lock *domain.FXRateLock) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.locks[lock.ID]; ok {
		return fmt.Errorf("rate lock %s already exists", lock.ID)
	}
	r.s.locks[lock.ID] = cloneLock(lock)
	return nil
}

func (r *RateLockRepo) GetByID(ctx context.Context, id string) (*domain.FXRateLock, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.locks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneLock(l), nil
}

func (r *RateLockRepo) Update(ctx context.Context, lock *domain.FXRateLock, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.locks[lock.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: rate lock %s at %d, expected %d", domain.ErrVersionConflict, lock.ID, stored.Version, expectedVersion)
	}
	lock.Version = expectedVersion + 1
	r.s.locks[lock.ID] = cloneLock(lock)
	return nil
}

func (r *RateLockRepo) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domain.FXRateLock, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.FXRateLock
	for _, l := range r.s.locks {
		if l.Status == domain.RateLockActive && l.ExpiresAt.Before(cutoff) {
			out = append(out, cloneLock(l))
		}
	}
	return out, nil
}

func (r *RateLockRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, l := range r.s.locks {
		if l.Status != domain.RateLockActive && l.ExpiresAt.Before(cutoff) {
			delete(r.s.locks, id)
			n++
		}
	}
	return n, nil
}

type RateRepo struct {
	s *Store
}

func NewRateRepo(s *Store) *RateRepo { return &RateRepo{s: s} }

func pairKey(base, quote string) string { return base + "/" + quote }

func (r *RateRepo) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := *rate
	r.s.rates[pairKey(rate.BaseCurrency, rate.QuoteCurrency)] = &n
	return nil
}

func (r *RateRepo) Latest(ctx context.Context, base, quote string) (*domain.ExchangeRate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rate, ok := r.s.rates[pairKey(base, quote)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	n := *rate
	return &n, nil
}

type ConversionRepo struct {
	s *Store
}

func NewConversionRepo(s *Store) *ConversionRepo { return &ConversionRepo{s: s} }

func (r *ConversionRepo) Create(ctx context.Context, conv *domain.FXConversion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.conversions[conv.ID]; ok {
		return fmt.Errorf("conversion %s already exists", conv.ID)
	}
	n := *conv
	r.s.conversions[conv.ID] = &n
	return nil
}

func (r *ConversionRepo) GetByID(ctx context.Context, id string) (*domain.FXConversion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	n := *conv
	return &n, nil
}

func (r *ConversionRepo) MarkReversed(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversions[id]
	if !ok {
		return domain.ErrNotFound
	}
	conv.Status = domain.ConversionReversed
	return nil
}
