package messaging

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/velopay/backend/internal/domain"
)

// OutboxDispatcher polls unpublished outbox events in creation order and
// publishes them onto the bus. A failed publish bumps the event's retry count;
// once MaxRetries is exceeded the event is dead-lettered and skipped by later
// polls, leaving it for manual inspection.
type OutboxDispatcher struct {
	outbox     domain.OutboxRepository
	bus        EventBus
	batchSize  int
	maxRetries int
}

func NewOutboxDispatcher(outbox domain.OutboxRepository, bus EventBus, batchSize, maxRetries int) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxDispatcher{
		outbox:     outbox,
		bus:        bus,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// DispatchOnce drains one batch and returns how many events were published.
// Events for a given aggregate are fetched and published in creation order, so
// consumers observe saga transitions in the order they occurred.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.outbox.FetchUnpublished(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range events {
		data, err := json.Marshal(EnvelopeFrom(ev))
		if err != nil {
			log.Printf("[DISPATCH] Failed to marshal event %s: %v", ev.EventID, err)
			if markErr := d.outbox.MarkFailed(ctx, ev.ID, err.Error(), true); markErr != nil {
				log.Printf("[DISPATCH] Failed to dead-letter event %s: %v", ev.EventID, markErr)
			}
			continue
		}

		if err := d.bus.Publish(ctx, ev.EventType, data); err != nil {
			deadLetter := ev.RetryCount+1 >= d.maxRetries
			if deadLetter {
				log.Printf("[DISPATCH] Event %s exhausted %d retries, dead-lettering: %v", ev.EventID, d.maxRetries, err)
			} else {
				log.Printf("[DISPATCH] Publish failed for event %s (attempt %d): %v", ev.EventID, ev.RetryCount+1, err)
			}
			if markErr := d.outbox.MarkFailed(ctx, ev.ID, err.Error(), deadLetter); markErr != nil {
				log.Printf("[DISPATCH] Failed to record publish failure for %s: %v", ev.EventID, markErr)
			}
			// Stop the batch so per-aggregate ordering is preserved on retry.
			return published, err
		}

		if err := d.outbox.MarkPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			// The event will be re-published next poll; consumers dedupe.
			log.Printf("[DISPATCH] Failed to mark event %s published: %v", ev.EventID, err)
			return published, err
		}
		published++
	}
	return published, nil
}
