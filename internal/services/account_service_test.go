package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/storage/memory"
)

// conflictingAccountRepo makes the first n Updates lose the version race, the
// way a concurrent writer would.
type conflictingAccountRepo struct {
	domain.AccountRepository
	conflicts int
}

func (r *conflictingAccountRepo) Update(ctx context.Context, account *domain.MultiCurrencyAccount, expectedVersion int64, opID string) error {
	if r.conflicts > 0 {
		r.conflicts--
		return domain.ErrVersionConflict
	}
	return r.AccountRepository.Update(ctx, account, expectedVersion, opID)
}

func newAccountService(t *testing.T) (*AccountService, *domain.MultiCurrencyAccount) {
	t.Helper()
	store := memory.NewStore()
	svc := NewAccountService(memory.NewAccountRepo(store), 5)
	account, err := svc.OpenAccount(context.Background(), "0123456789", "Ada Obi", "ada@example.com", []string{"USD"})
	require.NoError(t, err)
	return svc, account
}

func TestAccountService_PostCreditAndDebit(t *testing.T) {
	svc, account := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.PostCredit(ctx, account.ID, domain.MustMoney(1000, "USD"), "op-1"))
	require.NoError(t, svc.PostDebit(ctx, account.ID, domain.MustMoney(400, "USD"), "op-2"))

	got, err := svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.Balances["USD"].AvailableMinor)
}

func TestAccountService_DuplicateOperationIsNoOp(t *testing.T) {
	svc, account := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.PostCredit(ctx, account.ID, domain.MustMoney(1000, "USD"), "op-1"))
	// Replaying the same operation id must not double-apply.
	require.NoError(t, svc.PostCredit(ctx, account.ID, domain.MustMoney(1000, "USD"), "op-1"))

	got, err := svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balances["USD"].AvailableMinor)
}

func TestAccountService_RetriesVersionConflicts(t *testing.T) {
	store := memory.NewStore()
	repo := &conflictingAccountRepo{AccountRepository: memory.NewAccountRepo(store), conflicts: 2}
	svc := NewAccountService(repo, 5)
	ctx := context.Background()

	account, err := svc.OpenAccount(ctx, "0123456789", "Ada Obi", "ada@example.com", []string{"USD"})
	require.NoError(t, err)

	require.NoError(t, svc.PostCredit(ctx, account.ID, domain.MustMoney(500, "USD"), "op-1"))

	got, err := svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balances["USD"].AvailableMinor)
}

func TestAccountService_GivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	repo := &conflictingAccountRepo{AccountRepository: memory.NewAccountRepo(store), conflicts: 100}
	svc := NewAccountService(repo, 3)
	ctx := context.Background()

	account, err := svc.OpenAccount(ctx, "0123456789", "Ada Obi", "ada@example.com", []string{"USD"})
	require.NoError(t, err)

	err = svc.PostCredit(ctx, account.ID, domain.MustMoney(500, "USD"), "op-1")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestAccountService_BusinessErrorsPassThrough(t *testing.T) {
	svc, account := newAccountService(t)
	ctx := context.Background()

	err := svc.PostDebit(ctx, account.ID, domain.MustMoney(1, "USD"), "op-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = svc.PostCredit(ctx, account.ID, domain.MustMoney(1, "EUR"), "op-2")
	assert.ErrorIs(t, err, domain.ErrCurrencyNotEnabled)

	err = svc.PostCredit(ctx, "missing", domain.MustMoney(1, "USD"), "op-3")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountService_ReservationFlow(t *testing.T) {
	svc, account := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.PostCredit(ctx, account.ID, domain.MustMoney(1000, "USD"), "op-1"))
	require.NoError(t, svc.ReserveFunds(ctx, account.ID, domain.MustMoney(300, "USD"), "op-2"))

	got, err := svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Balances["USD"].AvailableMinor)
	assert.Equal(t, int64(300), got.Balances["USD"].ReservedMinor)

	require.NoError(t, svc.ReleaseReservation(ctx, account.ID, domain.MustMoney(300, "USD"), "op-3"))
	got, err = svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balances["USD"].AvailableMinor)
	assert.Equal(t, int64(0), got.Balances["USD"].ReservedMinor)
}
