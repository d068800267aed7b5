package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/storage/memory"
)

func newPaymentService(t *testing.T) (*PaymentService, domain.SagaRepository) {
	t.Helper()
	store := memory.NewStore()
	sagas := memory.NewSagaRepo(store)
	ps := NewPaymentService(sagas, memory.NewIdempotencyRepo(store), nil)
	return ps, sagas
}

func TestPaymentService_InitiatePayment(t *testing.T) {
	ps, _ := newPaymentService(t)
	ctx := context.Background()

	req := &PaymentRequest{
		RequestID:     "req-100",
		FromAccountID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		ToAccountID:   "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb",
		AmountMinor:   100000,
		FromCurrency:  "USD",
		ToCurrency:    "EUR",
	}

	saga, created, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SagaStarted, saga.SagaState)
	assert.Equal(t, "req-100", saga.RequestID)
	assert.Equal(t, int64(100000), saga.FromAmountMinor)
	assert.True(t, saga.IsCrossCurrency())

	// Default fee: 0.5% + 50 minor units.
	assert.Equal(t, int64(550), saga.FeeMinor)
}

func TestPaymentService_DuplicateRequestReturnsSamePayment(t *testing.T) {
	ps, _ := newPaymentService(t)
	ctx := context.Background()

	req := &PaymentRequest{
		RequestID:     "req-101",
		FromAccountID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		ToAccountID:   "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb",
		AmountMinor:   5000,
		FromCurrency:  "USD",
		ToCurrency:    "USD",
	}

	first, created, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestPaymentService_ExpiredRequestMappingNotReused(t *testing.T) {
	store := memory.NewStore()
	sagas := memory.NewSagaRepo(store)
	idempotency := memory.NewIdempotencyRepo(store)
	ps := NewPaymentService(sagas, idempotency, nil)
	ctx := context.Background()

	// A mapping whose window has lapsed no longer pins the request id.
	_, created, err := idempotency.Put(ctx, &domain.IdempotencyKey{
		RequestID: "req-107",
		PaymentID: "stale-payment",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.True(t, created)

	saga, created, err := ps.InitiatePayment(ctx, &PaymentRequest{
		RequestID:     "req-107",
		FromAccountID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		ToAccountID:   "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb",
		AmountMinor:   5000,
		FromCurrency:  "USD",
		ToCurrency:    "USD",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "stale-payment", saga.ID)

	// The takeover is durable: the request id now resolves to the new payment.
	key, err := idempotency.Get(ctx, "req-107")
	require.NoError(t, err)
	assert.Equal(t, saga.ID, key.PaymentID)
}

func TestPaymentService_RequestIDCache(t *testing.T) {
	store := memory.NewStore()
	sagas := memory.NewSagaRepo(store)
	redisClient, redisMock := redismock.NewClientMock()
	ps := NewPaymentService(sagas, memory.NewIdempotencyRepo(store), redisClient)
	ctx := context.Background()

	req := &PaymentRequest{
		RequestID:     "req-102",
		FromAccountID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		ToAccountID:   "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb",
		AmountMinor:   5000,
		FromCurrency:  "USD",
		ToCurrency:    "USD",
	}

	// First submission: cache miss, then the new mapping is cached.
	redisMock.ExpectGet("idem:req-102").RedisNil()
	redisMock.Regexp().ExpectSet("idem:req-102", `.*`, 24*time.Hour).SetVal("OK")

	saga, created, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	// Second submission resolves straight from the cache.
	redisMock.ExpectGet("idem:req-102").SetVal(saga.ID)

	again, created, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, saga.ID, again.ID)

	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPaymentService_Validation(t *testing.T) {
	ps, _ := newPaymentService(t)
	ctx := context.Background()

	t.Run("unsupported currency", func(t *testing.T) {
		_, _, err := ps.InitiatePayment(ctx, &PaymentRequest{
			RequestID:     "req-103",
			FromAccountID: "a",
			ToAccountID:   "b",
			AmountMinor:   100,
			FromCurrency:  "USD",
			ToCurrency:    "XXX",
		})
		assert.ErrorIs(t, err, domain.ErrUnknownCurrency)
	})

	t.Run("self transfer in one currency", func(t *testing.T) {
		_, _, err := ps.InitiatePayment(ctx, &PaymentRequest{
			RequestID:     "req-104",
			FromAccountID: "a",
			ToAccountID:   "a",
			AmountMinor:   100,
			FromCurrency:  "USD",
			ToCurrency:    "USD",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("negative amount", func(t *testing.T) {
		_, _, err := ps.InitiatePayment(ctx, &PaymentRequest{
			RequestID:     "req-105",
			FromAccountID: "a",
			ToAccountID:   "b",
			AmountMinor:   -1,
			FromCurrency:  "USD",
			ToCurrency:    "USD",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})
}

func TestPaymentService_GetByRequestID(t *testing.T) {
	ps, _ := newPaymentService(t)
	ctx := context.Background()

	req := &PaymentRequest{
		RequestID:     "req-106",
		FromAccountID: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa",
		ToAccountID:   "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb",
		AmountMinor:   5000,
		FromCurrency:  "USD",
		ToCurrency:    "USD",
	}
	created, _, err := ps.InitiatePayment(ctx, req)
	require.NoError(t, err)

	found, err := ps.GetByRequestID(ctx, "req-106")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = ps.GetByRequestID(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
