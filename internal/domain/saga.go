package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the coarse, externally visible payment lifecycle. It only
// ever moves forward: INITIATED -> DEBITED -> CREDITED -> COMPLETED, or a
// FAILED_* terminal, or COMPENSATED.
type PaymentStatus string

const (
	PaymentInitiated   PaymentStatus = "INITIATED"
	PaymentDebited     PaymentStatus = "DEBITED"
	PaymentCredited    PaymentStatus = "CREDITED"
	PaymentCompleted   PaymentStatus = "COMPLETED"
	PaymentCompensated PaymentStatus = "COMPENSATED"

	PaymentFailedRateLock     PaymentStatus = "FAILED_RATE_LOCK"
	PaymentFailedDebit        PaymentStatus = "FAILED_DEBIT"
	PaymentFailedConversion   PaymentStatus = "FAILED_CONVERSION"
	PaymentFailedCredit       PaymentStatus = "FAILED_CREDIT"
	PaymentFailedCompletion   PaymentStatus = "FAILED_COMPLETION"
	PaymentFailedCompensation PaymentStatus = "FAILED_COMPENSATION"
)

// SagaState is the authoritative fine-grained state machine driven by the saga
// driver. The cross-currency path inserts the FX states; a same-currency saga
// never visits them.
type SagaState string

const (
	SagaStarted            SagaState = "STARTED"
	SagaLockingFXRate      SagaState = "LOCKING_FX_RATE"
	SagaFXRateLocked       SagaState = "FX_RATE_LOCKED"
	SagaDebiting           SagaState = "DEBITING"
	SagaDebited            SagaState = "DEBITED"
	SagaConverting         SagaState = "CONVERTING_CURRENCY"
	SagaConverted          SagaState = "CURRENCY_CONVERTED"
	SagaCrediting          SagaState = "CREDITING"
	SagaCredited           SagaState = "CREDITED"
	SagaCompleting         SagaState = "COMPLETING"
	SagaCompleted          SagaState = "COMPLETED"
	SagaCompensating       SagaState = "COMPENSATING"
	SagaCompensated        SagaState = "COMPENSATED"
	SagaCompensationFailed SagaState = "COMPENSATION_FAILED"
	SagaFailed             SagaState = "FAILED"
)

// Saga step names, recorded on the saga for observability and on failures.
const (
	StepLockRate   = "LOCK_FX_RATE"
	StepDebit      = "DEBIT_SOURCE"
	StepConvert    = "CONVERT_CURRENCY"
	StepCredit     = "CREDIT_DESTINATION"
	StepComplete   = "COMPLETE"
	StepCompensate = "COMPENSATE"
)

// PaymentSaga is the payment aggregate together with its saga bookkeeping.
// Same-currency payments leave the FX fields zero-valued. Mutations happen only
// through the transition methods below; each verifies the exact predecessor
// state and leaves the saga untouched on violation.
type PaymentSaga struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`

	FromAccountID string `json:"fromAccountId"`
	ToAccountID   string `json:"toAccountId"`

	FromCurrency    string `json:"fromCurrency"`
	ToCurrency      string `json:"toCurrency"`
	FromAmountMinor int64  `json:"fromAmountMinor"`
	ToAmountMinor   int64  `json:"toAmountMinor"`
	FeeMinor        int64  `json:"feeMinor"`

	FXRateLockID      string          `json:"fxRateLockId,omitempty"`
	LockedRate        decimal.Decimal `json:"lockedRate"`
	FXSpread          decimal.Decimal `json:"fxSpread"`
	FXProvider        string          `json:"fxProvider,omitempty"`
	RateLockExpiresAt time.Time       `json:"rateLockExpiresAt,omitzero"`
	FXConversionID    string          `json:"fxConversionId,omitempty"`

	Status        PaymentStatus `json:"status"`
	SagaState     SagaState     `json:"sagaState"`
	CurrentStep   string        `json:"currentStep,omitempty"`
	RetryCount    int           `json:"retryCount"`
	FailureReason string        `json:"failureReason,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewPaymentSaga(requestID, fromAccountID, toAccountID string, amount Money, toCurrency string, feeMinor int64) *PaymentSaga {
	now := time.Now().UTC()
	return &PaymentSaga{
		ID:              uuid.New().String(),
		RequestID:       requestID,
		FromAccountID:   fromAccountID,
		ToAccountID:     toAccountID,
		FromCurrency:    amount.Currency,
		ToCurrency:      toCurrency,
		FromAmountMinor: amount.MinorUnits,
		FeeMinor:        feeMinor,
		Status:          PaymentInitiated,
		SagaState:       SagaStarted,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsCrossCurrency is fixed at creation: it decides which saga path executes.
func (s *PaymentSaga) IsCrossCurrency() bool {
	return s.FromCurrency != s.ToCurrency
}

func (s *PaymentSaga) IsTerminal() bool {
	switch s.SagaState {
	case SagaCompleted, SagaCompensated, SagaCompensationFailed, SagaFailed:
		return true
	}
	return false
}

// FromAmount returns the source-currency amount, excluding fee.
func (s *PaymentSaga) FromAmount() Money {
	return Money{MinorUnits: s.FromAmountMinor, Currency: s.FromCurrency}
}

// TotalDebitAmount is what actually leaves the source account: principal + fee.
func (s *PaymentSaga) TotalDebitAmount() Money {
	return Money{MinorUnits: s.FromAmountMinor + s.FeeMinor, Currency: s.FromCurrency}
}

func (s *PaymentSaga) Fee() Money {
	return Money{MinorUnits: s.FeeMinor, Currency: s.FromCurrency}
}

func (s *PaymentSaga) ToAmount() Money {
	return Money{MinorUnits: s.ToAmountMinor, Currency: s.ToCurrency}
}

func (s *PaymentSaga) transition(from SagaState, to SagaState, step string) error {
	if s.SagaState != from {
		return fmt.Errorf("%w: saga %s is %s, expected %s", ErrInvalidTransition, s.ID, s.SagaState, from)
	}
	s.SagaState = to
	if step != "" {
		s.CurrentStep = step
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PaymentSaga) StartRateLock() error {
	if !s.IsCrossCurrency() {
		return fmt.Errorf("%w: same-currency saga %s has no FX step", ErrInvalidTransition, s.ID)
	}
	return s.transition(SagaStarted, SagaLockingFXRate, StepLockRate)
}

func (s *PaymentSaga) ConfirmRateLocked(lock *FXRateLock) error {
	if err := s.transition(SagaLockingFXRate, SagaFXRateLocked, StepLockRate); err != nil {
		return err
	}
	s.FXRateLockID = lock.ID
	s.LockedRate = lock.Rate
	s.FXSpread = lock.Spread
	s.FXProvider = lock.Provider
	s.RateLockExpiresAt = lock.ExpiresAt
	return nil
}

func (s *PaymentSaga) StartDebit() error {
	from := SagaStarted
	if s.IsCrossCurrency() {
		from = SagaFXRateLocked
	}
	return s.transition(from, SagaDebiting, StepDebit)
}

func (s *PaymentSaga) ConfirmDebited() error {
	if err := s.transition(SagaDebiting, SagaDebited, StepDebit); err != nil {
		return err
	}
	s.Status = PaymentDebited
	return nil
}

func (s *PaymentSaga) StartConversion() error {
	if !s.IsCrossCurrency() {
		return fmt.Errorf("%w: same-currency saga %s has no conversion step", ErrInvalidTransition, s.ID)
	}
	return s.transition(SagaDebited, SagaConverting, StepConvert)
}

func (s *PaymentSaga) ConfirmConverted(conversionID string, toAmount Money) error {
	if err := s.transition(SagaConverting, SagaConverted, StepConvert); err != nil {
		return err
	}
	s.FXConversionID = conversionID
	s.ToAmountMinor = toAmount.MinorUnits
	return nil
}

func (s *PaymentSaga) StartCredit() error {
	from := SagaDebited
	if s.IsCrossCurrency() {
		from = SagaConverted
	}
	if err := s.transition(from, SagaCrediting, StepCredit); err != nil {
		return err
	}
	if !s.IsCrossCurrency() {
		s.ToAmountMinor = s.FromAmountMinor
	}
	return nil
}

func (s *PaymentSaga) ConfirmCredited() error {
	if err := s.transition(SagaCrediting, SagaCredited, StepCredit); err != nil {
		return err
	}
	s.Status = PaymentCredited
	return nil
}

func (s *PaymentSaga) StartCompletion() error {
	return s.transition(SagaCredited, SagaCompleting, StepComplete)
}

func (s *PaymentSaga) Complete() error {
	if err := s.transition(SagaCompleting, SagaCompleted, StepComplete); err != nil {
		return err
	}
	s.Status = PaymentCompleted
	return nil
}

// StartCompensation is reachable from any in-flight state once the debit has
// had an external effect.
func (s *PaymentSaga) StartCompensation(reason string) error {
	if s.IsTerminal() || s.SagaState == SagaCompensating {
		return fmt.Errorf("%w: saga %s is %s", ErrInvalidTransition, s.ID, s.SagaState)
	}
	s.SagaState = SagaCompensating
	s.CurrentStep = StepCompensate
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PaymentSaga) ConfirmCompensated() error {
	if err := s.transition(SagaCompensating, SagaCompensated, StepCompensate); err != nil {
		return err
	}
	s.Status = PaymentCompensated
	return nil
}

// FailCompensation marks the most severe terminal: money left the source and
// could not be returned. Surfaced for manual reconciliation, never retried
// automatically.
func (s *PaymentSaga) FailCompensation(errMsg string) error {
	if err := s.transition(SagaCompensating, SagaCompensationFailed, StepCompensate); err != nil {
		return err
	}
	s.Status = PaymentFailedCompensation
	s.ErrorMessage = errMsg
	return nil
}

// Fail moves directly to FAILED from any non-terminal state. It records the
// reason but does not compensate; the driver decides whether compensation is
// required based on which steps already had external effects.
func (s *PaymentSaga) Fail(status PaymentStatus, reason string) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: saga %s already terminal in %s", ErrInvalidTransition, s.ID, s.SagaState)
	}
	s.SagaState = SagaFailed
	s.Status = status
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PaymentSaga) RecordRetry(errMsg string) {
	s.RetryCount++
	s.ErrorMessage = errMsg
	s.UpdatedAt = time.Now().UTC()
}
