package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/velopay/backend/internal/domain"
)

// SagaDriver executes payment sagas step by step. Each step follows the same
// shape: persist the Start transition, call the collaborator with a timeout and
// bounded retries, then persist the Confirm transition together with its outbox
// event. Every collaborator call is idempotent on an operation id derived from
// the saga, so re-running a step after a crash never double-applies money.
type SagaDriver struct {
	sagas     domain.SagaRepository
	balances  BalancePort
	rates     RateLockPort
	converter ConversionPort
	ledger    LedgerPort

	feeAccountID string
	maxRetries   int
	retryDelay   time.Duration
	stepTimeout  time.Duration
	lockDuration time.Duration
}

type SagaDriverConfig struct {
	FeeAccountID string
	MaxRetries   int
	RetryDelay   time.Duration
	StepTimeout  time.Duration
	LockDuration time.Duration
}

func NewSagaDriver(sagas domain.SagaRepository, balances BalancePort, rates RateLockPort, converter ConversionPort, ledger LedgerPort, cfg SagaDriverConfig) *SagaDriver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 15 * time.Minute
	}
	return &SagaDriver{
		sagas:        sagas,
		balances:     balances,
		rates:        rates,
		converter:    converter,
		ledger:       ledger,
		feeAccountID: cfg.FeeAccountID,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		stepTimeout:  cfg.StepTimeout,
		lockDuration: cfg.LockDuration,
	}
}

// Execute drives a saga from its current state to a terminal one. It is safe
// to call on a freshly created saga or on one reloaded mid-flight after a
// restart; in-flight states re-enter their step without repeating the Start
// transition.
func (d *SagaDriver) Execute(ctx context.Context, saga *domain.PaymentSaga) error {
	log.Printf("[SAGA] Executing payment %s from state %s", saga.ID, saga.SagaState)

	for !saga.IsTerminal() {
		var err error
		switch saga.SagaState {
		case domain.SagaStarted:
			if saga.IsCrossCurrency() {
				err = d.stepLockRate(ctx, saga)
			} else {
				err = d.stepDebit(ctx, saga)
			}
		case domain.SagaLockingFXRate:
			err = d.stepLockRate(ctx, saga)
		case domain.SagaFXRateLocked, domain.SagaDebiting:
			err = d.stepDebit(ctx, saga)
		case domain.SagaDebited:
			if saga.IsCrossCurrency() {
				err = d.stepConvert(ctx, saga)
			} else {
				err = d.stepCredit(ctx, saga)
			}
		case domain.SagaConverting:
			err = d.stepConvert(ctx, saga)
		case domain.SagaConverted, domain.SagaCrediting:
			err = d.stepCredit(ctx, saga)
		case domain.SagaCredited, domain.SagaCompleting:
			err = d.stepComplete(ctx, saga)
		case domain.SagaCompensating:
			err = d.runCompensation(ctx, saga)
		default:
			return fmt.Errorf("%w: saga %s in unexpected state %s", domain.ErrInvalidTransition, saga.ID, saga.SagaState)
		}
		if err != nil {
			return err
		}
	}

	log.Printf("[SAGA] Payment %s finished in state %s (status %s)", saga.ID, saga.SagaState, saga.Status)
	return nil
}

func (d *SagaDriver) stepLockRate(ctx context.Context, saga *domain.PaymentSaga) error {
	if saga.SagaState != domain.SagaLockingFXRate {
		if err := saga.StartRateLock(); err != nil {
			return err
		}
		if err := d.persist(ctx, saga); err != nil {
			return err
		}
	}

	var lock *domain.FXRateLock
	err := d.withRetry(ctx, saga, "lock rate", func(c context.Context) error {
		var lerr error
		lock, lerr = d.rates.Lock(c, saga.FromCurrency, saga.ToCurrency, saga.FromAccountID, saga.ID, d.lockDuration)
		return lerr
	})
	if err != nil {
		// Nothing has moved yet, so a rate-lock failure fails the payment
		// outright without compensation.
		return d.failPayment(ctx, saga, domain.PaymentFailedRateLock, fmt.Sprintf("rate lock %s/%s: %v", saga.FromCurrency, saga.ToCurrency, err))
	}

	if err := saga.ConfirmRateLocked(lock); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s locked %s/%s at %s (spread %s)", saga.ID, lock.BaseCurrency, lock.QuoteCurrency, lock.Rate, lock.Spread)
	return d.persistWithEvent(ctx, saga, domain.EventFXRateLocked)
}

func (d *SagaDriver) stepDebit(ctx context.Context, saga *domain.PaymentSaga) error {
	if saga.SagaState != domain.SagaDebiting {
		if err := saga.StartDebit(); err != nil {
			return err
		}
		if err := d.persist(ctx, saga); err != nil {
			return err
		}
	}

	err := d.withRetry(ctx, saga, "debit source", func(c context.Context) error {
		return d.balances.PostDebit(c, saga.FromAccountID, saga.TotalDebitAmount(), saga.ID+":debit")
	})
	if err != nil {
		return d.failPayment(ctx, saga, domain.PaymentFailedDebit, fmt.Sprintf("debit source %s: %v", saga.FromAccountID, err))
	}

	if saga.FeeMinor > 0 && d.feeAccountID != "" {
		err := d.withRetry(ctx, saga, "post fee", func(c context.Context) error {
			return d.balances.PostCredit(c, d.feeAccountID, saga.Fee(), saga.ID+":fee")
		})
		if err != nil {
			// The source debit already landed; the only safe exit is backwards.
			return d.compensate(ctx, saga, fmt.Sprintf("post fee: %v", err))
		}
	}

	if err := saga.ConfirmDebited(); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s debited %d %s (incl. fee %d) from %s", saga.ID, saga.TotalDebitAmount().MinorUnits, saga.FromCurrency, saga.FeeMinor, saga.FromAccountID)
	return d.persistWithEvent(ctx, saga, domain.EventPaymentDebited)
}

func (d *SagaDriver) stepConvert(ctx context.Context, saga *domain.PaymentSaga) error {
	if saga.SagaState != domain.SagaConverting {
		if err := saga.StartConversion(); err != nil {
			return err
		}
		if err := d.persist(ctx, saga); err != nil {
			return err
		}
	}

	var conv *domain.FXConversion
	err := d.withRetry(ctx, saga, "convert currency", func(c context.Context) error {
		var cerr error
		conv, cerr = d.converter.Convert(c, saga.FXRateLockID, saga.FromAmount(), saga.ID)
		return cerr
	})
	if err != nil {
		return d.compensate(ctx, saga, fmt.Sprintf("conversion via lock %s: %v", saga.FXRateLockID, err))
	}

	if err := saga.ConfirmConverted(conv.ID, domain.Money{MinorUnits: conv.ToAmountMinor, Currency: conv.ToCurrency}); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s converted %d %s -> %d %s", saga.ID, conv.FromAmountMinor, conv.FromCurrency, conv.ToAmountMinor, conv.ToCurrency)
	return d.persistWithEvent(ctx, saga, domain.EventCurrencyConverted)
}

func (d *SagaDriver) stepCredit(ctx context.Context, saga *domain.PaymentSaga) error {
	if saga.SagaState != domain.SagaCrediting {
		if err := saga.StartCredit(); err != nil {
			return err
		}
		if err := d.persist(ctx, saga); err != nil {
			return err
		}
	}

	err := d.withRetry(ctx, saga, "credit destination", func(c context.Context) error {
		return d.balances.PostCredit(c, saga.ToAccountID, saga.ToAmount(), saga.ID+":credit")
	})
	if err != nil {
		return d.compensate(ctx, saga, fmt.Sprintf("credit destination %s: %v", saga.ToAccountID, err))
	}

	if err := saga.ConfirmCredited(); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s credited %d %s to %s", saga.ID, saga.ToAmountMinor, saga.ToCurrency, saga.ToAccountID)
	return d.persistWithEvent(ctx, saga, domain.EventPaymentCredited)
}

func (d *SagaDriver) stepComplete(ctx context.Context, saga *domain.PaymentSaga) error {
	if saga.SagaState != domain.SagaCompleting {
		if err := saga.StartCompletion(); err != nil {
			return err
		}
		if err := d.persist(ctx, saga); err != nil {
			return err
		}
	}

	err := d.withRetry(ctx, saga, "record ledger", func(c context.Context) error {
		_, lerr := d.ledger.RecordPaymentEntries(c, saga)
		return lerr
	})
	if err != nil {
		return d.compensate(ctx, saga, fmt.Sprintf("record ledger: %v", err))
	}

	if err := saga.Complete(); err != nil {
		return err
	}
	return d.persistWithEvent(ctx, saga, domain.EventPaymentCompleted)
}

// compensate unwinds a payment whose debit already had external effect. The
// credit is reversed only when it was confirmed; a failed credit call never
// applied, so reversing it would take money the destination never received.
func (d *SagaDriver) compensate(ctx context.Context, saga *domain.PaymentSaga, reason string) error {
	// What must be unwound depends on where the failure happened. The
	// decisions are recorded on the step marker so a saga reloaded mid
	// compensation after a restart does not lose them.
	creditConfirmed := saga.SagaState == domain.SagaCredited || saga.SagaState == domain.SagaCompleting
	feePosted := saga.SagaState != domain.SagaDebiting
	if err := saga.StartCompensation(reason); err != nil {
		return err
	}
	if creditConfirmed {
		saga.CurrentStep += ":REVERSE_CREDIT"
	}
	if !feePosted {
		saga.CurrentStep += ":SKIP_FEE"
	}
	if err := d.persist(ctx, saga); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s compensating: %s", saga.ID, reason)
	return d.runCompensation(ctx, saga)
}

func (d *SagaDriver) runCompensation(ctx context.Context, saga *domain.PaymentSaga) error {
	reverseCredit := strings.Contains(saga.CurrentStep, ":REVERSE_CREDIT")
	skipFee := strings.Contains(saga.CurrentStep, ":SKIP_FEE")

	if saga.FXConversionID != "" {
		err := d.withRetry(ctx, saga, "reverse conversion", func(c context.Context) error {
			return d.converter.MarkReversed(c, saga.FXConversionID)
		})
		if err != nil {
			return d.failCompensation(ctx, saga, fmt.Sprintf("reverse conversion %s: %v", saga.FXConversionID, err))
		}
	}

	if reverseCredit {
		err := d.withRetry(ctx, saga, "reverse credit", func(c context.Context) error {
			return d.balances.PostDebit(c, saga.ToAccountID, saga.ToAmount(), saga.ID+":reverse-credit")
		})
		if err != nil {
			return d.failCompensation(ctx, saga, fmt.Sprintf("reverse credit on %s: %v", saga.ToAccountID, err))
		}
	}

	err := d.withRetry(ctx, saga, "refund source", func(c context.Context) error {
		return d.balances.PostCredit(c, saga.FromAccountID, saga.TotalDebitAmount(), saga.ID+":compensate")
	})
	if err != nil {
		return d.failCompensation(ctx, saga, fmt.Sprintf("refund source %s: %v", saga.FromAccountID, err))
	}

	if saga.FeeMinor > 0 && d.feeAccountID != "" && !skipFee {
		err := d.withRetry(ctx, saga, "reverse fee", func(c context.Context) error {
			return d.balances.PostDebit(c, d.feeAccountID, saga.Fee(), saga.ID+":reverse-fee")
		})
		if err != nil {
			return d.failCompensation(ctx, saga, fmt.Sprintf("reverse fee: %v", err))
		}
	}

	if err := saga.ConfirmCompensated(); err != nil {
		return err
	}
	log.Printf("[SAGA] Payment %s compensated: refunded %d %s to %s", saga.ID, saga.TotalDebitAmount().MinorUnits, saga.FromCurrency, saga.FromAccountID)
	return d.persistWithEvent(ctx, saga, domain.EventPaymentCompensated)
}

func (d *SagaDriver) failCompensation(ctx context.Context, saga *domain.PaymentSaga, errMsg string) error {
	log.Printf("[SAGA] Payment %s compensation failed, manual reconciliation required: %s", saga.ID, errMsg)
	if err := saga.FailCompensation(errMsg); err != nil {
		return err
	}
	return d.persistWithEvent(ctx, saga, domain.EventPaymentFailed)
}

func (d *SagaDriver) failPayment(ctx context.Context, saga *domain.PaymentSaga, status domain.PaymentStatus, reason string) error {
	log.Printf("[SAGA] Payment %s failed (%s): %s", saga.ID, status, reason)
	if err := saga.Fail(status, reason); err != nil {
		return err
	}
	return d.persistWithEvent(ctx, saga, domain.EventPaymentFailed)
}

// withRetry runs call under the step timeout, retrying transient failures with
// a fixed delay. Business-rule failures abort immediately; each retry is
// recorded on the saga so operators can see flapping collaborators.
func (d *SagaDriver) withRetry(ctx context.Context, saga *domain.PaymentSaga, what string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, d.stepTimeout)
		err := call(stepCtx)
		cancel()
		if err == nil {
			return nil
		}
		if isTerminalFailure(err) {
			return err
		}
		lastErr = err
		saga.RecordRetry(err.Error())
		if perr := d.persist(ctx, saga); perr != nil {
			return perr
		}
		log.Printf("[SAGA] Payment %s step %q attempt %d failed: %v", saga.ID, what, attempt+1, err)
	}
	return fmt.Errorf("%s: retries exhausted: %w", what, lastErr)
}

func (d *SagaDriver) persist(ctx context.Context, saga *domain.PaymentSaga, events ...domain.OutboxEvent) error {
	if err := d.sagas.Update(ctx, saga, saga.Version, events...); err != nil {
		return fmt.Errorf("persist saga %s: %w", saga.ID, err)
	}
	return nil
}

func (d *SagaDriver) persistWithEvent(ctx context.Context, saga *domain.PaymentSaga, eventType string) error {
	payload, err := json.Marshal(saga)
	if err != nil {
		return fmt.Errorf("marshal saga %s: %w", saga.ID, err)
	}
	return d.persist(ctx, saga, domain.NewOutboxEvent(saga.ID, eventType, saga.ID, payload))
}
