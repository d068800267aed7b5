package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/velopay/backend/internal/domain"
)

type SagaRepo struct {
	s *Store
}

func NewSagaRepo(s *Store) *SagaRepo { return &SagaRepo{s: s} }

func (r *SagaRepo) appendEventsLocked(events []domain.OutboxEvent) {
	for _, ev := range events {
		r.s.outboxSeq++
		ev.ID = r.s.outboxSeq
		r.s.outbox = append(r.s.outbox, ev)
	}
}

func (r *SagaRepo) Create(ctx context.Context, saga *domain.PaymentSaga, events ...domain.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sagas[saga.ID]; ok {
		return fmt.Errorf("saga %s already exists", saga.ID)
	}
	r.s.sagas[saga.ID] = cloneSaga(saga)
	r.appendEventsLocked(events)
	return nil
}

func (r *SagaRepo) GetByID(ctx context.Context, id string) (*domain.PaymentSaga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	saga, ok := r.s.sagas[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSaga(saga), nil
}

func (r *SagaRepo) GetByRequestID(ctx context.Context, requestID string) (*domain.PaymentSaga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, saga := range r.s.sagas {
		if saga.RequestID == requestID {
			return cloneSaga(saga), nil
		}
	}
	return nil, domain.ErrNotFound
}

// Update persists the saga snapshot and appends the outbox events atomically;
// both become visible together under the store lock, mirroring the Postgres
// implementation's transaction.
func (r *SagaRepo) Update(ctx context.Context, saga *domain.PaymentSaga, expectedVersion int64, events ...domain.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.sagas[saga.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: saga %s at %d, expected %d", domain.ErrVersionConflict, saga.ID, stored.Version, expectedVersion)
	}
	saga.Version = expectedVersion + 1
	r.s.sagas[saga.ID] = cloneSaga(saga)
	r.appendEventsLocked(events)
	return nil
}

func (r *SagaRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.PaymentSaga, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.PaymentSaga
	for _, saga := range r.s.sagas {
		if accountID == "" || saga.FromAccountID == accountID || saga.ToAccountID == accountID {
			out = append(out, cloneSaga(saga))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
