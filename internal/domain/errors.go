package domain

import "errors"

// Validation errors are rejected synchronously and never retried.
var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrUnknownCurrency  = errors.New("unknown currency code")
)

// Business-rule failures. These are surfaced to the caller and recorded on the
// payment; they trigger compensation when money already moved.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrAccountNotActive        = errors.New("account not active")
	ErrAccountNotFound         = errors.New("account not found")
	ErrCurrencyNotEnabled      = errors.New("currency not enabled for account")
	ErrBalanceNotZero          = errors.New("balance must be zero")
	ErrRateLockNotUsable       = errors.New("fx rate lock not usable")
	ErrRateUnavailable         = errors.New("no fx rate available")
)

// ErrInvalidTransition marks an out-of-order saga or lock transition. This is a
// programming-contract violation, not a retryable condition.
var ErrInvalidTransition = errors.New("invalid state transition")

// Persistence errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("version conflict")
	ErrDuplicateEvent     = errors.New("duplicate event")
	ErrDuplicateOperation = errors.New("duplicate operation")
)
