package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/velopay/backend/internal/domain"
)

const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

// LedgerService records the two sides of each settled payment: a debit entry
// for the source account in the source currency and a credit entry for the
// destination in the destination currency, each with the running balance after
// posting.
type LedgerService struct {
	entries  domain.LedgerRepository
	accounts domain.AccountRepository
}

func NewLedgerService(entries domain.LedgerRepository, accounts domain.AccountRepository) *LedgerService {
	return &LedgerService{entries: entries, accounts: accounts}
}

func (s *LedgerService) balanceAfter(ctx context.Context, accountID, currency string) (int64, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	balance, err := account.Balance(currency)
	if err != nil {
		return 0, err
	}
	return balance.TotalMinor, nil
}

func (s *LedgerService) RecordPaymentEntries(ctx context.Context, saga *domain.PaymentSaga) ([]domain.LedgerEntry, error) {
	fromBalance, err := s.balanceAfter(ctx, saga.FromAccountID, saga.FromCurrency)
	if err != nil {
		return nil, fmt.Errorf("ledger: source balance: %w", err)
	}
	toBalance, err := s.balanceAfter(ctx, saga.ToAccountID, saga.ToCurrency)
	if err != nil {
		return nil, fmt.Errorf("ledger: destination balance: %w", err)
	}

	now := time.Now().UTC()
	entries := []domain.LedgerEntry{
		{
			ID:           uuid.New().String(),
			PaymentID:    saga.ID,
			AccountID:    saga.FromAccountID,
			Direction:    DirectionDebit,
			AmountMinor:  -saga.TotalDebitAmount().MinorUnits,
			Currency:     saga.FromCurrency,
			BalanceAfter: fromBalance,
			CreatedAt:    now,
		},
		{
			ID:           uuid.New().String(),
			PaymentID:    saga.ID,
			AccountID:    saga.ToAccountID,
			Direction:    DirectionCredit,
			AmountMinor:  saga.ToAmountMinor,
			Currency:     saga.ToCurrency,
			BalanceAfter: toBalance,
			CreatedAt:    now,
		},
	}

	if err := s.entries.Append(ctx, entries); err != nil {
		return nil, fmt.Errorf("ledger: append entries: %w", err)
	}
	return entries, nil
}

func (s *LedgerService) PaymentEntries(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	return s.entries.ListByPayment(ctx, paymentID)
}
