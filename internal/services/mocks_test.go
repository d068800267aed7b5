package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/velopay/backend/internal/domain"
)

type MockBalancePort struct {
	mock.Mock
}

func (m *MockBalancePort) ReserveFunds(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	args := m.Called(ctx, accountID, amount, opID)
	return args.Error(0)
}

func (m *MockBalancePort) ReleaseReservation(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	args := m.Called(ctx, accountID, amount, opID)
	return args.Error(0)
}

func (m *MockBalancePort) PostDebit(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	args := m.Called(ctx, accountID, amount, opID)
	return args.Error(0)
}

func (m *MockBalancePort) PostCredit(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	args := m.Called(ctx, accountID, amount, opID)
	return args.Error(0)
}

type MockRateLockPort struct {
	mock.Mock
}

func (m *MockRateLockPort) Lock(ctx context.Context, base, quote, accountID, correlationID string, duration time.Duration) (*domain.FXRateLock, error) {
	args := m.Called(ctx, base, quote, accountID, correlationID, duration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FXRateLock), args.Error(1)
}

type MockConversionPort struct {
	mock.Mock
}

func (m *MockConversionPort) Convert(ctx context.Context, lockID string, from domain.Money, correlationID string) (*domain.FXConversion, error) {
	args := m.Called(ctx, lockID, from, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FXConversion), args.Error(1)
}

func (m *MockConversionPort) MarkReversed(ctx context.Context, conversionID string) error {
	args := m.Called(ctx, conversionID)
	return args.Error(0)
}

type MockLedgerPort struct {
	mock.Mock
}

func (m *MockLedgerPort) RecordPaymentEntries(ctx context.Context, saga *domain.PaymentSaga) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, saga)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

type MockRateSource struct {
	mock.Mock
}

func (m *MockRateSource) Name() string {
	return "mock"
}

func (m *MockRateSource) Quote(ctx context.Context, base, quote string) (*Quote, error) {
	args := m.Called(ctx, base, quote)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Quote), args.Error(1)
}
