package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/velopay/backend/internal/domain"
)

// AccountService implements the account balance collaborator over the account
// repository. Every mutation is a read-modify-CAS loop: a version conflict
// means a concurrent writer won and the operation is retried from a fresh
// read. The caller-supplied opID makes each mutation idempotent, so a saga
// step can be retried safely after a timeout.
type AccountService struct {
	accounts    domain.AccountRepository
	maxAttempts int
}

func NewAccountService(accounts domain.AccountRepository, maxAttempts int) *AccountService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &AccountService{accounts: accounts, maxAttempts: maxAttempts}
}

func (s *AccountService) mutate(ctx context.Context, accountID, opID string, op func(*domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error)) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		account, err := s.accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}

		updated, err := op(account)
		if err != nil {
			return err
		}

		err = s.accounts.Update(ctx, updated, account.Version, opID)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrDuplicateOperation) {
			// Already applied by a previous attempt; the retry is a no-op.
			log.Printf("[ACCOUNT] Operation %s already applied to account %s", opID, accountID)
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("account %s: gave up after %d attempts: %w", accountID, s.maxAttempts, lastErr)
}

func (s *AccountService) ReserveFunds(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	return s.mutate(ctx, accountID, opID, func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Reserve(amount)
	})
}

func (s *AccountService) ReleaseReservation(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	return s.mutate(ctx, accountID, opID, func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.ReleaseReservation(amount)
	})
}

func (s *AccountService) PostDebit(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	return s.mutate(ctx, accountID, opID, func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Debit(amount)
	})
}

func (s *AccountService) PostCredit(ctx context.Context, accountID string, amount domain.Money, opID string) error {
	return s.mutate(ctx, accountID, opID, func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Credit(amount)
	})
}

// OpenAccount provisions a new active account with the given currencies
// enabled.
func (s *AccountService) OpenAccount(ctx context.Context, accountNumber, holderName, email string, currencies []string) (*domain.MultiCurrencyAccount, error) {
	account := domain.NewMultiCurrencyAccount(accountNumber, holderName, email)
	for _, currency := range currencies {
		updated, err := account.EnableCurrency(currency)
		if err != nil {
			return nil, err
		}
		account = updated
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) EnableCurrency(ctx context.Context, accountID, currency string) error {
	return s.mutate(ctx, accountID, "", func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.EnableCurrency(currency)
	})
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.MultiCurrencyAccount, error) {
	return s.accounts.GetByID(ctx, accountID)
}

func (s *AccountService) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.MultiCurrencyAccount, error) {
	return s.accounts.GetByNumber(ctx, accountNumber)
}

func (s *AccountService) Suspend(ctx context.Context, accountID string) error {
	return s.mutate(ctx, accountID, "", func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Suspend()
	})
}

func (s *AccountService) Activate(ctx context.Context, accountID string) error {
	return s.mutate(ctx, accountID, "", func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Activate()
	})
}

func (s *AccountService) CloseAccount(ctx context.Context, accountID string) error {
	return s.mutate(ctx, accountID, "", func(a *domain.MultiCurrencyAccount) (*domain.MultiCurrencyAccount, error) {
		return a.Close()
	})
}
