package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted on saga transitions. Topic routing lives in the
// messaging package.
const (
	EventPaymentRequested   = "payment.requested"
	EventFXRateLocked       = "payment.fx-rate-locked"
	EventPaymentDebited     = "payment.debited"
	EventCurrencyConverted  = "payment.currency-converted"
	EventPaymentCredited    = "payment.credited"
	EventPaymentCompleted   = "payment.completed"
	EventPaymentFailed      = "payment.failed"
	EventPaymentCompensated = "payment.compensated"
)

// OutboxEvent is written in the same unit of work as the saga state change it
// describes, then published asynchronously by the dispatcher.
type OutboxEvent struct {
	ID            int64     `json:"id"`
	EventID       string    `json:"eventId"`
	AggregateID   string    `json:"aggregateId"`
	EventType     string    `json:"eventType"`
	CorrelationID string    `json:"correlationId"`
	Payload       []byte    `json:"payload"`
	Published     bool      `json:"published"`
	RetryCount    int       `json:"retryCount"`
	DeadLettered  bool      `json:"deadLettered"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	LastRetryAt   time.Time `json:"lastRetryAt,omitzero"`
	CreatedAt     time.Time `json:"createdAt"`
	PublishedAt   time.Time `json:"publishedAt,omitzero"`
}

func NewOutboxEvent(aggregateID, eventType, correlationID string, payload []byte) OutboxEvent {
	return OutboxEvent{
		EventID:       uuid.New().String(),
		AggregateID:   aggregateID,
		EventType:     eventType,
		CorrelationID: correlationID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// InboxEvent deduplicates deliveries on the consuming side; EventID uniqueness
// is the deduplication mechanism. The row is inserted before the business
// handler runs (durability point) and marked processed only after it succeeds.
type InboxEvent struct {
	ID           int64     `json:"id"`
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	Payload      []byte    `json:"payload"`
	Processed    bool      `json:"processed"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
	ProcessedAt  time.Time `json:"processedAt,omitzero"`
}

// IdempotencyKey maps an external request id to the payment it already
// created. A short-lived mapping, not a permanent ledger entry.
type IdempotencyKey struct {
	RequestID string    `json:"requestId"`
	PaymentID string    `json:"paymentId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
