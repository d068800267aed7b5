package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// MultiCurrencyAccount holds one CurrencyBalance per enabled currency. All
// mutating methods are pure: they return a new snapshot with Version bumped,
// leaving the receiver untouched, so a store can compare-and-swap on
// (ID, expected version).
type MultiCurrencyAccount struct {
	ID            string                     `json:"id"`
	AccountNumber string                     `json:"accountNumber"`
	HolderName    string                     `json:"holderName"`
	Email         string                     `json:"email"`
	Status        AccountStatus              `json:"status"`
	Balances      map[string]CurrencyBalance `json:"balances"`
	Version       int64                      `json:"version"`
	CreatedAt     time.Time                  `json:"createdAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

func NewMultiCurrencyAccount(accountNumber, holderName, email string) *MultiCurrencyAccount {
	now := time.Now().UTC()
	return &MultiCurrencyAccount{
		ID:            uuid.New().String(),
		AccountNumber: accountNumber,
		HolderName:    holderName,
		Email:         email,
		Status:        AccountActive,
		Balances:      map[string]CurrencyBalance{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (a *MultiCurrencyAccount) snapshot() *MultiCurrencyAccount {
	n := *a
	n.Balances = make(map[string]CurrencyBalance, len(a.Balances))
	for c, b := range a.Balances {
		n.Balances[c] = b
	}
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	return &n
}

func (a *MultiCurrencyAccount) requireActive() error {
	if a.Status != AccountActive {
		return fmt.Errorf("%w: account %s is %s", ErrAccountNotActive, a.AccountNumber, a.Status)
	}
	return nil
}

func (a *MultiCurrencyAccount) Balance(currency string) (CurrencyBalance, error) {
	b, ok := a.Balances[currency]
	if !ok {
		return CurrencyBalance{}, fmt.Errorf("%w: %s", ErrCurrencyNotEnabled, currency)
	}
	return b, nil
}

func (a *MultiCurrencyAccount) EnableCurrency(currency string) (*MultiCurrencyAccount, error) {
	if err := a.requireActive(); err != nil {
		return a, err
	}
	if !IsSupportedCurrency(currency) {
		return a, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if _, ok := a.Balances[currency]; ok {
		return a, nil
	}
	n := a.snapshot()
	n.Balances[currency] = NewCurrencyBalance(currency)
	return n, nil
}

func (a *MultiCurrencyAccount) apply(currency string, op func(CurrencyBalance) (CurrencyBalance, error)) (*MultiCurrencyAccount, error) {
	if err := a.requireActive(); err != nil {
		return a, err
	}
	b, err := a.Balance(currency)
	if err != nil {
		return a, err
	}
	nb, err := op(b)
	if err != nil {
		return a, err
	}
	n := a.snapshot()
	n.Balances[currency] = nb
	return n, nil
}

func (a *MultiCurrencyAccount) Credit(amount Money) (*MultiCurrencyAccount, error) {
	return a.apply(amount.Currency, func(b CurrencyBalance) (CurrencyBalance, error) { return b.Credit(amount) })
}

func (a *MultiCurrencyAccount) Debit(amount Money) (*MultiCurrencyAccount, error) {
	return a.apply(amount.Currency, func(b CurrencyBalance) (CurrencyBalance, error) { return b.Debit(amount) })
}

func (a *MultiCurrencyAccount) Reserve(amount Money) (*MultiCurrencyAccount, error) {
	return a.apply(amount.Currency, func(b CurrencyBalance) (CurrencyBalance, error) { return b.Reserve(amount) })
}

func (a *MultiCurrencyAccount) ReleaseReservation(amount Money) (*MultiCurrencyAccount, error) {
	return a.apply(amount.Currency, func(b CurrencyBalance) (CurrencyBalance, error) { return b.ReleaseReservation(amount) })
}

func (a *MultiCurrencyAccount) UseReservation(amount Money) (*MultiCurrencyAccount, error) {
	return a.apply(amount.Currency, func(b CurrencyBalance) (CurrencyBalance, error) { return b.UseReservation(amount) })
}

func (a *MultiCurrencyAccount) Suspend() (*MultiCurrencyAccount, error) {
	if a.Status == AccountClosed {
		return a, fmt.Errorf("%w: cannot suspend a closed account", ErrInvalidTransition)
	}
	n := a.snapshot()
	n.Status = AccountSuspended
	return n, nil
}

func (a *MultiCurrencyAccount) Activate() (*MultiCurrencyAccount, error) {
	if a.Status == AccountClosed {
		return a, fmt.Errorf("%w: cannot activate a closed account", ErrInvalidTransition)
	}
	n := a.snapshot()
	n.Status = AccountActive
	return n, nil
}

// Close requires every enabled currency balance to be exactly zero.
func (a *MultiCurrencyAccount) Close() (*MultiCurrencyAccount, error) {
	for currency, b := range a.Balances {
		if b.TotalMinor != 0 {
			return a, fmt.Errorf("%w: %s holds %d minor units", ErrBalanceNotZero, currency, b.TotalMinor)
		}
	}
	n := a.snapshot()
	n.Status = AccountClosed
	return n, nil
}
