package memory

import (
	"context"
	"time"

	"github.com/velopay/backend/internal/domain"
)

type OutboxRepo struct {
	s *Store
}

func NewOutboxRepo(s *Store) *OutboxRepo { return &OutboxRepo{s: s} }

func (r *OutboxRepo) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboxEvent
	for _, ev := range r.s.outbox {
		if ev.Published || ev.DeadLettered {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.s.outbox[i].Published = true
			r.s.outbox[i].PublishedAt = publishedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, deadLettered bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.s.outbox[i].RetryCount++
			r.s.outbox[i].ErrorMessage = errMsg
			r.s.outbox[i].LastRetryAt = time.Now().UTC()
			r.s.outbox[i].DeadLettered = deadLettered
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *OutboxRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []domain.OutboxEvent
	var n int64
	for _, ev := range r.s.outbox {
		if ev.Published && ev.PublishedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	r.s.outbox = kept
	return n, nil
}

type InboxRepo struct {
	s *Store
}

func NewInboxRepo(s *Store) *InboxRepo { return &InboxRepo{s: s} }

func (r *InboxRepo) Insert(ctx context.Context, event *domain.InboxEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.inbox[event.EventID]; ok {
		return false, nil
	}
	r.s.inboxSeq++
	event.ID = r.s.inboxSeq
	n := *event
	r.s.inbox[event.EventID] = &n
	return true, nil
}

func (r *InboxRepo) Get(ctx context.Context, eventID string) (*domain.InboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.inbox[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	n := *ev
	return &n, nil
}

func (r *InboxRepo) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.inbox[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.Processed = true
	ev.ProcessedAt = processedAt
	return nil
}

func (r *InboxRepo) MarkFailed(ctx context.Context, eventID string, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.inbox[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.RetryCount++
	ev.ErrorMessage = errMsg
	return nil
}

func (r *InboxRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, ev := range r.s.inbox {
		if ev.Processed && ev.ProcessedAt.Before(cutoff) {
			delete(r.s.inbox, id)
			n++
		}
	}
	return n, nil
}
