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

type driverFixture struct {
	store     *memory.Store
	sagas     domain.SagaRepository
	outbox    domain.OutboxRepository
	locks     domain.RateLockRepository
	accounts  *AccountService
	rates     *FXRateService
	converter *FXConversionService
	ledger    *LedgerService
	driver    *SagaDriver

	src string
	dst string
	fee string
}

func newDriverFixture(t *testing.T) *driverFixture {
	t.Helper()
	store := memory.NewStore()

	accountRepo := memory.NewAccountRepo(store)
	accounts := NewAccountService(accountRepo, 5)

	source := NewTableRateSource("test")
	source.Set("USD", "EUR", Quote{
		Rate:   decimal.RequireFromString("0.85"),
		Spread: decimal.RequireFromString("0.0008"),
	})
	locks := memory.NewRateLockRepo(store)
	rates := NewFXRateService([]RateSource{source}, locks, memory.NewRateRepo(store), time.Minute)
	converter := NewFXConversionService(rates, memory.NewConversionRepo(store))
	ledger := NewLedgerService(memory.NewLedgerRepo(store), accountRepo)
	sagas := memory.NewSagaRepo(store)

	ctx := context.Background()
	src, err := accounts.OpenAccount(ctx, "0000000010", "Source Holder", "src@example.com", []string{"USD", "EUR"})
	require.NoError(t, err)
	dst, err := accounts.OpenAccount(ctx, "0000000011", "Destination Holder", "dst@example.com", []string{"USD", "EUR"})
	require.NoError(t, err)
	feeAcct, err := accounts.OpenAccount(ctx, "0000000001", "Fee Account", "fees@example.com", []string{"USD", "EUR"})
	require.NoError(t, err)

	driver := NewSagaDriver(sagas, accounts, rates, converter, ledger, SagaDriverConfig{
		FeeAccountID: feeAcct.ID,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
		StepTimeout:  time.Second,
		LockDuration: time.Minute,
	})

	return &driverFixture{
		store:     store,
		sagas:     sagas,
		outbox:    memory.NewOutboxRepo(store),
		locks:     locks,
		accounts:  accounts,
		rates:     rates,
		converter: converter,
		ledger:    ledger,
		driver:    driver,
		src:       src.ID,
		dst:       dst.ID,
		fee:       feeAcct.ID,
	}
}

func (f *driverFixture) seed(t *testing.T, accountID string, amount domain.Money) {
	t.Helper()
	require.NoError(t, f.accounts.PostCredit(context.Background(), accountID, amount, "seed-"+accountID+"-"+amount.Currency))
}

func (f *driverFixture) available(t *testing.T, accountID, currency string) int64 {
	t.Helper()
	account, err := f.accounts.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balances[currency].AvailableMinor
}

func (f *driverFixture) eventTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.outbox.FetchUnpublished(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	return types
}

func TestSagaDriver_SameCurrencyCompletion(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(1000000, "USD"))

	saga := domain.NewPaymentSaga("req-1", f.src, f.dst, domain.MustMoney(1000000, "USD"), "USD", 0)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompleted, saga.SagaState)
	assert.Equal(t, domain.PaymentCompleted, saga.Status)
	assert.Equal(t, int64(0), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(1000000), f.available(t, f.dst, "USD"))

	entries, err := f.ledger.PaymentEntries(ctx, saga.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.Equal(t, []string{
		domain.EventPaymentDebited,
		domain.EventPaymentCredited,
		domain.EventPaymentCompleted,
	}, f.eventTypes(t))
}

func TestSagaDriver_CrossCurrencyCompletion(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(1000000, "USD"))

	saga := domain.NewPaymentSaga("req-2", f.src, f.dst, domain.MustMoney(1000000, "USD"), "EUR", 0)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompleted, saga.SagaState)
	// 10000.00 USD at 0.85 minus 0.0008 spread = 8492.00 EUR, truncated.
	assert.Equal(t, int64(849200), saga.ToAmountMinor)
	assert.Equal(t, int64(0), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(849200), f.available(t, f.dst, "EUR"))

	lock, err := f.rates.GetLock(ctx, saga.FXRateLockID)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLockUsed, lock.Status)

	conv, err := f.converter.GetConversion(ctx, saga.FXConversionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversionCompleted, conv.Status)
	assert.Equal(t, int64(849200), conv.ToAmountMinor)

	assert.Equal(t, []string{
		domain.EventFXRateLocked,
		domain.EventPaymentDebited,
		domain.EventCurrencyConverted,
		domain.EventPaymentCredited,
		domain.EventPaymentCompleted,
	}, f.eventTypes(t))
}

func TestSagaDriver_FeeCollection(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(100550, "USD"))

	saga := domain.NewPaymentSaga("req-3", f.src, f.dst, domain.MustMoney(100000, "USD"), "USD", 550)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompleted, saga.SagaState)
	assert.Equal(t, int64(0), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(100000), f.available(t, f.dst, "USD"))
	assert.Equal(t, int64(550), f.available(t, f.fee, "USD"))
}

func TestSagaDriver_InsufficientFundsFailsWithoutCompensation(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(100, "USD"))

	saga := domain.NewPaymentSaga("req-4", f.src, f.dst, domain.MustMoney(1000000, "USD"), "USD", 0)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaFailed, saga.SagaState)
	assert.Equal(t, domain.PaymentFailedDebit, saga.Status)
	assert.Equal(t, int64(100), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(0), f.available(t, f.dst, "USD"))

	assert.Equal(t, []string{domain.EventPaymentFailed}, f.eventTypes(t))
}

func TestSagaDriver_RateUnavailableFailsPayment(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(1000000, "EUR"))

	// No EUR/USD entry in the rate table and nothing persisted to fall back on.
	saga := domain.NewPaymentSaga("req-5", f.src, f.dst, domain.MustMoney(1000000, "EUR"), "USD", 0)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaFailed, saga.SagaState)
	assert.Equal(t, domain.PaymentFailedRateLock, saga.Status)
	assert.Equal(t, int64(1000000), f.available(t, f.src, "EUR"))
}

func TestSagaDriver_CreditFailureCompensates(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(100550, "USD"))

	// Suspend the destination so the credit is rejected with a business
	// error after the debit landed.
	require.NoError(t, f.accounts.Suspend(ctx, f.dst))

	saga := domain.NewPaymentSaga("req-6", f.src, f.dst, domain.MustMoney(100000, "USD"), "USD", 550)
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompensated, saga.SagaState)
	assert.Equal(t, domain.PaymentCompensated, saga.Status)

	// Every balance restored exactly.
	assert.Equal(t, int64(100550), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(0), f.available(t, f.fee, "USD"))

	types := f.eventTypes(t)
	assert.Contains(t, types, domain.EventPaymentDebited)
	assert.Contains(t, types, domain.EventPaymentCompensated)
	assert.NotContains(t, types, domain.EventPaymentCredited)
}

func TestSagaDriver_ExpiredLockCompensates(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(1000000, "USD"))

	// A saga resuming after a long outage: the rate lock it confirmed has
	// already expired.
	expired := domain.NewFXRateLock("USD", "EUR",
		decimal.RequireFromString("0.85"), decimal.RequireFromString("0.0008"),
		"test", f.src, "corr", -time.Second)
	require.NoError(t, f.locks.Create(ctx, expired))

	saga := domain.NewPaymentSaga("req-7", f.src, f.dst, domain.MustMoney(1000000, "USD"), "EUR", 0)
	require.NoError(t, saga.StartRateLock())
	require.NoError(t, saga.ConfirmRateLocked(expired))
	require.NoError(t, f.sagas.Create(ctx, saga))

	require.NoError(t, f.driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompensated, saga.SagaState)
	assert.Equal(t, int64(1000000), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(0), f.available(t, f.dst, "EUR"))
}

func TestSagaDriver_TransientRetryExhaustion(t *testing.T) {
	store := memory.NewStore()
	sagas := memory.NewSagaRepo(store)

	balances := &MockBalancePort{}
	transient := errors.New("connection reset")
	balances.On("PostDebit", mock.Anything, "src", mock.Anything, mock.Anything).Return(transient)

	driver := NewSagaDriver(sagas, balances, nil, nil, nil, SagaDriverConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	ctx := context.Background()
	saga := domain.NewPaymentSaga("req-8", "src", "dst", domain.MustMoney(1000, "USD"), "USD", 0)
	require.NoError(t, sagas.Create(ctx, saga))

	require.NoError(t, driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaFailed, saga.SagaState)
	assert.Equal(t, domain.PaymentFailedDebit, saga.Status)
	assert.Equal(t, 3, saga.RetryCount)
	assert.Contains(t, saga.FailureReason, "retries exhausted")
	balances.AssertNumberOfCalls(t, "PostDebit", 3)
}

func TestSagaDriver_CompensationFailureIsTerminal(t *testing.T) {
	store := memory.NewStore()
	sagas := memory.NewSagaRepo(store)

	balances := &MockBalancePort{}
	saga := domain.NewPaymentSaga("req-9", "src", "dst", domain.MustMoney(1000, "USD"), "USD", 0)

	balances.On("PostDebit", mock.Anything, "src", mock.Anything, saga.ID+":debit").Return(nil)
	balances.On("PostCredit", mock.Anything, "dst", mock.Anything, saga.ID+":credit").Return(domain.ErrAccountNotActive)
	balances.On("PostCredit", mock.Anything, "src", mock.Anything, saga.ID+":compensate").Return(domain.ErrAccountNotActive)

	driver := NewSagaDriver(sagas, balances, nil, nil, nil, SagaDriverConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, sagas.Create(ctx, saga))

	require.NoError(t, driver.Execute(ctx, saga))

	assert.Equal(t, domain.SagaCompensationFailed, saga.SagaState)
	assert.Equal(t, domain.PaymentFailedCompensation, saga.Status)
	assert.NotEmpty(t, saga.ErrorMessage)
	balances.AssertExpectations(t)
}

func TestSagaDriver_ResumeFromDebited(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()
	f.seed(t, f.src, domain.MustMoney(1000000, "USD"))

	// Simulate a crash after the debit was confirmed: the reloaded saga
	// resumes from DEBITED and still completes exactly once.
	saga := domain.NewPaymentSaga("req-10", f.src, f.dst, domain.MustMoney(1000000, "USD"), "USD", 0)
	require.NoError(t, f.sagas.Create(ctx, saga))
	require.NoError(t, f.accounts.PostDebit(ctx, f.src, saga.TotalDebitAmount(), saga.ID+":debit"))
	require.NoError(t, saga.StartDebit())
	require.NoError(t, saga.ConfirmDebited())
	require.NoError(t, f.sagas.Update(ctx, saga, saga.Version))

	reloaded, err := f.sagas.GetByID(ctx, saga.ID)
	require.NoError(t, err)
	require.NoError(t, f.driver.Execute(ctx, reloaded))

	assert.Equal(t, domain.SagaCompleted, reloaded.SagaState)
	assert.Equal(t, int64(0), f.available(t, f.src, "USD"))
	assert.Equal(t, int64(1000000), f.available(t, f.dst, "USD"))
}
