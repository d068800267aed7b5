package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/velopay/backend/internal/domain"
)

// Handler processes a delivered event exactly once at the business level.
type Handler func(ctx context.Context, env Envelope) error

// InboxConsumer gives effectively-once processing over the at-least-once bus.
// On first sight of an event id the inbox row is inserted before the handler
// runs (the durability point); duplicates are acknowledged and discarded. A
// handler failure leaves the message unacknowledged so the bus redelivers it,
// and the retry reuses the existing unprocessed row.
type InboxConsumer struct {
	inbox    domain.InboxRepository
	bus      EventBus
	handlers map[string]Handler
}

func NewInboxConsumer(inbox domain.InboxRepository, bus EventBus) *InboxConsumer {
	return &InboxConsumer{
		inbox:    inbox,
		bus:      bus,
		handlers: map[string]Handler{},
	}
}

func (c *InboxConsumer) Register(eventType string, h Handler) {
	c.handlers[eventType] = h
}

// Topics lists the event types with a registered handler.
func (c *InboxConsumer) Topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Poll consumes at most one message from the topic.
func (c *InboxConsumer) Poll(ctx context.Context, topic string, timeout time.Duration) error {
	data, err := c.bus.Consume(ctx, topic, timeout)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.Handle(ctx, data); err != nil {
		if reqErr := c.bus.Requeue(ctx, topic, data); reqErr != nil {
			log.Printf("[INBOX] Failed to requeue message on %s: %v", topic, reqErr)
		}
		return err
	}
	return nil
}

// Handle processes one delivered message. A nil return acknowledges it.
func (c *InboxConsumer) Handle(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Malformed messages can never succeed; acknowledge and drop.
		log.Printf("[INBOX] Dropping malformed message: %v", err)
		return nil
	}

	row := &domain.InboxEvent{
		EventID:    env.EventID,
		EventType:  env.EventType,
		Payload:    env.Payload,
		ReceivedAt: time.Now().UTC(),
	}
	created, err := c.inbox.Insert(ctx, row)
	if err != nil {
		return fmt.Errorf("persist inbox event %s: %w", env.EventID, err)
	}
	if !created {
		existing, err := c.inbox.Get(ctx, env.EventID)
		if err == nil && existing.Processed {
			// Duplicate delivery of an already processed event: not an error.
			log.Printf("[INBOX] Duplicate event %s (%s), discarding", env.EventID, env.EventType)
			return nil
		}
		// Redelivery of an unprocessed event: fall through and retry the
		// handler against the existing row.
	}

	handler, ok := c.handlers[env.EventType]
	if !ok {
		// No interest in this event type; mark processed so retention can
		// reclaim the row.
		return c.inbox.MarkProcessed(ctx, env.EventID, time.Now().UTC())
	}

	if err := handler(ctx, env); err != nil {
		if markErr := c.inbox.MarkFailed(ctx, env.EventID, err.Error()); markErr != nil {
			log.Printf("[INBOX] Failed to record handler failure for %s: %v", env.EventID, markErr)
		}
		return fmt.Errorf("handle event %s (%s): %w", env.EventID, env.EventType, err)
	}

	return c.inbox.MarkProcessed(ctx, env.EventID, time.Now().UTC())
}
