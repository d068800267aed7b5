// Package messaging carries saga lifecycle events between services with
// at-least-once semantics: the outbox dispatcher publishes durable events onto
// the bus and the inbox consumer deduplicates them by event id.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/velopay/backend/internal/domain"
)

// Envelope is the wire format for every published event.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	CorrelationID string          `json:"correlationId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

func EnvelopeFrom(ev domain.OutboxEvent) Envelope {
	return Envelope{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		AggregateID:   ev.AggregateID,
		CorrelationID: ev.CorrelationID,
		OccurredAt:    ev.CreatedAt,
		Payload:       ev.Payload,
	}
}

// EventBus is the transport the dispatcher publishes onto. Delivery is
// at-least-once; consumers are expected to deduplicate.
type EventBus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Consume blocks up to the given timeout for the next message on a topic.
	// It returns domain.ErrNotFound when the timeout elapses with no message.
	Consume(ctx context.Context, topic string, timeout time.Duration) ([]byte, error)
	// Requeue puts a message back at the head of the topic so it is
	// redelivered next, used when a handler fails before acknowledging.
	Requeue(ctx context.Context, topic string, data []byte) error
}

const topicPrefix = "events:"

// RedisBus implements EventBus over redis lists, one list per topic.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.client.RPush(ctx, topicPrefix+topic, data).Err()
}

func (b *RedisBus) Consume(ctx context.Context, topic string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, topicPrefix+topic).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// BLPOP returns [key, value].
	return []byte(res[1]), nil
}

func (b *RedisBus) Requeue(ctx context.Context, topic string, data []byte) error {
	return b.client.LPush(ctx, topicPrefix+topic, data).Err()
}
