package memory

import (
	"context"
	"fmt"

	"github.com/velopay/backend/internal/domain"
)

type AccountRepo struct {
	s *Store
}

func NewAccountRepo(s *Store) *AccountRepo { return &AccountRepo{s: s} }

func (r *AccountRepo) Create(ctx context.Context, account *domain.MultiCurrencyAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	r.s.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.MultiCurrencyAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepo) GetByNumber(ctx context.Context, accountNumber string) (*domain.MultiCurrencyAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.AccountNumber == accountNumber {
			return cloneAccount(a), nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (r *AccountRepo) Update(ctx context.Context, account *domain.MultiCurrencyAccount, expectedVersion int64, opID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if opID != "" && r.s.accountOps[opID] {
		return domain.ErrDuplicateOperation
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: account %s at %d, expected %d", domain.ErrVersionConflict, account.ID, stored.Version, expectedVersion)
	}
	r.s.accounts[account.ID] = cloneAccount(account)
	if opID != "" {
		r.s.accountOps[opID] = true
	}
	return nil
}
