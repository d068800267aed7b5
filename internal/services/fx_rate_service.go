package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velopay/backend/internal/domain"
)

// Quote is what a rate source returns for a currency pair.
type Quote struct {
	Rate     decimal.Decimal
	Spread   decimal.Decimal
	Provider string
	ValidFor time.Duration
}

// RateSource supplies live quotes. Sources are queried in priority order, with
// the most recent persisted rate as the final fallback.
type RateSource interface {
	Name() string
	Quote(ctx context.Context, base, quote string) (*Quote, error)
}

// TableRateSource serves quotes from a fixed table, used for local development
// and tests.
type TableRateSource struct {
	name   string
	quotes map[string]Quote
}

func NewTableRateSource(name string) *TableRateSource {
	return &TableRateSource{name: name, quotes: map[string]Quote{}}
}

func (t *TableRateSource) Name() string { return t.name }

func (t *TableRateSource) Set(base, quote string, q Quote) {
	q.Provider = t.name
	t.quotes[base+"/"+quote] = q
}

func (t *TableRateSource) Quote(ctx context.Context, base, quote string) (*Quote, error) {
	q, ok := t.quotes[base+"/"+quote]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrRateUnavailable, base, quote)
	}
	return &q, nil
}

// FXRateService obtains quotes, freezes them into single-use rate locks and
// tracks the lock lifecycle.
type FXRateService struct {
	sources         []RateSource
	locks           domain.RateLockRepository
	rates           domain.RateRepository
	maxLockDuration time.Duration
	now             func() time.Time
}

func NewFXRateService(sources []RateSource, locks domain.RateLockRepository, rates domain.RateRepository, maxLockDuration time.Duration) *FXRateService {
	if maxLockDuration <= 0 {
		maxLockDuration = 15 * time.Minute
	}
	return &FXRateService{
		sources:         sources,
		locks:           locks,
		rates:           rates,
		maxLockDuration: maxLockDuration,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *FXRateService) quote(ctx context.Context, base, quoteCurrency string) (*Quote, error) {
	for _, source := range s.sources {
		q, err := source.Quote(ctx, base, quoteCurrency)
		if err != nil {
			log.Printf("[FXLOCK] Source %s unavailable for %s/%s: %v", source.Name(), base, quoteCurrency, err)
			continue
		}
		if err := s.rates.Save(ctx, &domain.ExchangeRate{
			BaseCurrency:  base,
			QuoteCurrency: quoteCurrency,
			Rate:          q.Rate,
			Spread:        q.Spread,
			Provider:      q.Provider,
			FetchedAt:     s.now(),
		}); err != nil {
			log.Printf("[FXLOCK] Failed to persist rate %s/%s: %v", base, quoteCurrency, err)
		}
		return q, nil
	}

	// Every live source failed; fall back to the last persisted rate.
	last, err := s.rates.Latest(ctx, base, quoteCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrRateUnavailable, base, quoteCurrency)
	}
	log.Printf("[FXLOCK] All sources down for %s/%s, using persisted rate from %s", base, quoteCurrency, last.Provider)
	return &Quote{Rate: last.Rate, Spread: last.Spread, Provider: last.Provider}, nil
}

// Lock obtains a quote and freezes it for the given duration, capped at the
// configured maximum.
func (s *FXRateService) Lock(ctx context.Context, base, quoteCurrency, accountID, correlationID string, duration time.Duration) (*domain.FXRateLock, error) {
	if !domain.IsSupportedCurrency(base) || !domain.IsSupportedCurrency(quoteCurrency) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownCurrency, base, quoteCurrency)
	}
	if duration <= 0 || duration > s.maxLockDuration {
		duration = s.maxLockDuration
	}

	q, err := s.quote(ctx, base, quoteCurrency)
	if err != nil {
		return nil, err
	}

	lock := domain.NewFXRateLock(base, quoteCurrency, q.Rate, q.Spread, q.Provider, accountID, correlationID, duration)
	if err := s.locks.Create(ctx, lock); err != nil {
		return nil, fmt.Errorf("persist rate lock: %w", err)
	}
	log.Printf("[FXLOCK] Locked %s/%s at %s (spread %s) for %s until %s",
		base, quoteCurrency, q.Rate, q.Spread, accountID, lock.ExpiresAt.Format(time.RFC3339))
	return lock, nil
}

// Use consumes an active, unexpired lock. Its rate and spread become the
// authoritative conversion factors for the consuming saga.
func (s *FXRateService) Use(ctx context.Context, lockID string) (*domain.FXRateLock, error) {
	for {
		lock, err := s.locks.GetByID(ctx, lockID)
		if err != nil {
			return nil, err
		}
		if err := lock.Use(s.now()); err != nil {
			return nil, err
		}
		err = s.locks.Update(ctx, lock, lock.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			// Concurrent transition; re-read to find out whether the lock is
			// still usable.
			continue
		}
		if err != nil {
			return nil, err
		}
		return lock, nil
	}
}

func (s *FXRateService) Expire(ctx context.Context, lockID string) error {
	lock, err := s.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if err := lock.Expire(); err != nil {
		return err
	}
	return s.locks.Update(ctx, lock, lock.Version)
}

func (s *FXRateService) GetLock(ctx context.Context, lockID string) (*domain.FXRateLock, error) {
	return s.locks.GetByID(ctx, lockID)
}

// SweepExpired expires every ACTIVE lock past its deadline. Safe to run
// concurrently with itself: a competing transition surfaces as a version
// conflict and the lock is simply skipped.
func (s *FXRateService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.locks.ListActiveExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, lock := range expired {
		if err := lock.Expire(); err != nil {
			continue
		}
		if err := s.locks.Update(ctx, lock, lock.Version); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		log.Printf("[FXLOCK] Expired %d rate locks", swept)
	}
	return swept, nil
}
