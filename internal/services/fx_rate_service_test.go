package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/storage/memory"
)

func newFXFixture(sources ...RateSource) (*FXRateService, *memory.Store) {
	store := memory.NewStore()
	svc := NewFXRateService(sources, memory.NewRateLockRepo(store), memory.NewRateRepo(store), time.Minute)
	return svc, store
}

func TestFXRateService_Lock(t *testing.T) {
	source := NewTableRateSource("primary")
	source.Set("USD", "EUR", Quote{
		Rate:   decimal.RequireFromString("0.85"),
		Spread: decimal.RequireFromString("0.0008"),
	})
	svc, _ := newFXFixture(source)
	ctx := context.Background()

	lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLockActive, lock.Status)
	assert.True(t, lock.Rate.Equal(decimal.RequireFromString("0.85")))
	assert.True(t, lock.EffectiveRate().Equal(decimal.RequireFromString("0.8492")))
	assert.WithinDuration(t, time.Now().Add(30*time.Second), lock.ExpiresAt, 2*time.Second)

	t.Run("duration clamped to maximum", func(t *testing.T) {
		lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-2", time.Hour)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), lock.ExpiresAt, 2*time.Second)
	})

	t.Run("unknown currency", func(t *testing.T) {
		_, err := svc.Lock(ctx, "USD", "XXX", "acct-1", "corr-3", 0)
		assert.ErrorIs(t, err, domain.ErrUnknownCurrency)
	})

	t.Run("unknown pair", func(t *testing.T) {
		_, err := svc.Lock(ctx, "EUR", "GBP", "acct-1", "corr-4", 0)
		assert.ErrorIs(t, err, domain.ErrRateUnavailable)
	})
}

func TestFXRateService_SourceFallback(t *testing.T) {
	flaky := &MockRateSource{}
	flaky.On("Quote", mock.Anything, "USD", "EUR").Return(nil, errors.New("provider down"))

	backup := NewTableRateSource("backup")
	backup.Set("USD", "EUR", Quote{
		Rate:   decimal.RequireFromString("0.86"),
		Spread: decimal.RequireFromString("0.001"),
	})

	svc, _ := newFXFixture(flaky, backup)
	ctx := context.Background()

	lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "backup", lock.Provider)
	assert.True(t, lock.Rate.Equal(decimal.RequireFromString("0.86")))
}

func TestFXRateService_PersistedRateFallback(t *testing.T) {
	source := NewTableRateSource("primary")
	source.Set("USD", "EUR", Quote{
		Rate:   decimal.RequireFromString("0.85"),
		Spread: decimal.RequireFromString("0.0008"),
	})
	svc, _ := newFXFixture(source)
	ctx := context.Background()

	// First lock persists the fetched rate.
	_, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-1", 0)
	require.NoError(t, err)

	// Take the live source away; the persisted rate still serves.
	svc.sources = nil
	lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-2", 0)
	require.NoError(t, err)
	assert.True(t, lock.Rate.Equal(decimal.RequireFromString("0.85")))
}

func TestFXRateService_UseIsSingleShot(t *testing.T) {
	source := NewTableRateSource("primary")
	source.Set("USD", "EUR", Quote{Rate: decimal.RequireFromString("0.85")})
	svc, _ := newFXFixture(source)
	ctx := context.Background()

	lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-1", 0)
	require.NoError(t, err)

	used, err := svc.Use(ctx, lock.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLockUsed, used.Status)

	_, err = svc.Use(ctx, lock.ID)
	assert.ErrorIs(t, err, domain.ErrRateLockNotUsable)
}

func TestFXRateService_SweepExpired(t *testing.T) {
	source := NewTableRateSource("primary")
	source.Set("USD", "EUR", Quote{Rate: decimal.RequireFromString("0.85")})
	svc, store := newFXFixture(source)
	ctx := context.Background()

	lock, err := svc.Lock(ctx, "USD", "EUR", "acct-1", "corr-1", 0)
	require.NoError(t, err)

	// An already-expired lock sitting in storage.
	stale := domain.NewFXRateLock("USD", "EUR",
		decimal.RequireFromString("0.85"), decimal.Zero, "primary", "acct-1", "corr-2", -time.Second)
	require.NoError(t, memory.NewRateLockRepo(store).Create(ctx, stale))

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	swept, err := svc.GetLock(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLockExpired, swept.Status)

	// The live lock is untouched.
	live, err := svc.GetLock(ctx, lock.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLockActive, live.Status)
}
