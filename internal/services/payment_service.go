package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"

	"github.com/velopay/backend/internal/domain"
)

// PaymentRequest is the validated intake for a new payment.
type PaymentRequest struct {
	RequestID     string `json:"requestId" validate:"required,max=64"`
	FromAccountID string `json:"fromAccountId" validate:"required,uuid4"`
	ToAccountID   string `json:"toAccountId" validate:"required,uuid4"`
	AmountMinor   int64  `json:"amountMinor" validate:"required,gt=0"`
	FromCurrency  string `json:"fromCurrency" validate:"required,len=3"`
	ToCurrency    string `json:"toCurrency" validate:"required,len=3"`
}

// PaymentService accepts payment requests, guards them against duplicate
// submission and hands accepted sagas to the driver. The request id mapping is
// written before the saga so a crash between the two surfaces as a retryable
// not-found rather than a duplicate payment.
type PaymentService struct {
	sagas       domain.SagaRepository
	idempotency domain.IdempotencyRepository
	redis       *redis.Client

	feePercentage float64
	feeFixed      int64
	idemTTL       time.Duration
}

func NewPaymentService(sagas domain.SagaRepository, idempotency domain.IdempotencyRepository, redisClient *redis.Client) *PaymentService {
	feePercentage := 0.5
	feeFixed := int64(50)
	if viper.IsSet("transfer.fee_percentage") {
		feePercentage = viper.GetFloat64("transfer.fee_percentage")
	}
	if viper.IsSet("transfer.fee_fixed") {
		feeFixed = viper.GetInt64("transfer.fee_fixed")
	}
	idemTTL := viper.GetDuration("payment.idempotency_ttl")
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &PaymentService{
		sagas:         sagas,
		idempotency:   idempotency,
		redis:         redisClient,
		feePercentage: feePercentage,
		feeFixed:      feeFixed,
		idemTTL:       idemTTL,
	}
}

func (ps *PaymentService) calculateFee(amount int64) int64 {
	fee := int64(float64(amount) * ps.feePercentage / 100)
	return fee + ps.feeFixed
}

// InitiatePayment creates the saga for a request, or returns the existing one
// when the request id has been seen before. The created saga carries the
// payment.requested event in the same unit of work as its first persist.
func (ps *PaymentService) InitiatePayment(ctx context.Context, req *PaymentRequest) (*domain.PaymentSaga, bool, error) {
	if !domain.IsSupportedCurrency(req.FromCurrency) || !domain.IsSupportedCurrency(req.ToCurrency) {
		return nil, false, fmt.Errorf("%w: %s/%s", domain.ErrUnknownCurrency, req.FromCurrency, req.ToCurrency)
	}
	amount, err := domain.NewMoney(req.AmountMinor, req.FromCurrency)
	if err != nil {
		return nil, false, err
	}
	if req.FromAccountID == req.ToAccountID && req.FromCurrency == req.ToCurrency {
		return nil, false, fmt.Errorf("%w: source and destination are the same balance", domain.ErrInvalidAmount)
	}

	// Fast path: a cached mapping means the durable guard already decided.
	if cached := ps.cachedPaymentID(ctx, req.RequestID); cached != "" {
		saga, err := ps.sagas.GetByID(ctx, cached)
		if err == nil {
			log.Printf("[PAYMENT] Duplicate request %s resolved from cache to payment %s", req.RequestID, saga.ID)
			return saga, false, nil
		}
	}

	saga := domain.NewPaymentSaga(req.RequestID, req.FromAccountID, req.ToAccountID, amount, req.ToCurrency, ps.calculateFee(req.AmountMinor))

	key := &domain.IdempotencyKey{
		RequestID: req.RequestID,
		PaymentID: saga.ID,
		ExpiresAt: time.Now().UTC().Add(ps.idemTTL),
	}
	existing, created, err := ps.idempotency.Put(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency guard: %w", err)
	}
	if !created {
		prior, err := ps.sagas.GetByID(ctx, existing.PaymentID)
		if err != nil {
			// Mapping exists but the saga write never happened. The client
			// retries and hits this until the window expires.
			return nil, false, fmt.Errorf("payment %s for request %s: %w", existing.PaymentID, req.RequestID, err)
		}
		log.Printf("[PAYMENT] Duplicate request %s returned existing payment %s", req.RequestID, prior.ID)
		ps.cachePaymentID(ctx, req.RequestID, prior.ID)
		return prior, false, nil
	}

	payload, err := json.Marshal(saga)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payment %s: %w", saga.ID, err)
	}
	event := domain.NewOutboxEvent(saga.ID, domain.EventPaymentRequested, saga.ID, payload)
	if err := ps.sagas.Create(ctx, saga, event); err != nil {
		return nil, false, fmt.Errorf("create payment %s: %w", saga.ID, err)
	}

	ps.cachePaymentID(ctx, req.RequestID, saga.ID)
	log.Printf("[PAYMENT] Accepted payment %s (%s %d -> %s, fee %d) for request %s",
		saga.ID, saga.FromCurrency, saga.FromAmountMinor, saga.ToCurrency, saga.FeeMinor, req.RequestID)
	return saga, true, nil
}

func (ps *PaymentService) GetPayment(ctx context.Context, id string) (*domain.PaymentSaga, error) {
	return ps.sagas.GetByID(ctx, id)
}

func (ps *PaymentService) GetByRequestID(ctx context.Context, requestID string) (*domain.PaymentSaga, error) {
	saga, err := ps.sagas.GetByRequestID(ctx, requestID)
	if err == nil {
		return saga, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	key, kerr := ps.idempotency.Get(ctx, requestID)
	if kerr != nil {
		return nil, err
	}
	return ps.sagas.GetByID(ctx, key.PaymentID)
}

func (ps *PaymentService) ListPayments(ctx context.Context, accountID string, limit int) ([]*domain.PaymentSaga, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return ps.sagas.ListByAccount(ctx, accountID, limit)
}

func (ps *PaymentService) cachedPaymentID(ctx context.Context, requestID string) string {
	if ps.redis == nil {
		return ""
	}
	val, err := ps.redis.Get(ctx, "idem:"+requestID).Result()
	if err != nil {
		return ""
	}
	return val
}

func (ps *PaymentService) cachePaymentID(ctx context.Context, requestID, paymentID string) {
	if ps.redis == nil {
		return
	}
	if err := ps.redis.Set(ctx, "idem:"+requestID, paymentID, ps.idemTTL).Err(); err != nil {
		log.Printf("[PAYMENT] Failed to cache request mapping %s: %v", requestID, err)
	}
}
