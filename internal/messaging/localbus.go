package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/velopay/backend/internal/domain"
)

// LocalBus is an in-process EventBus used when redis is unavailable, mainly in
// tests and single-node development. Semantics match RedisBus: per-topic FIFO
// queues, Consume pops the head, Requeue pushes back to the head.
type LocalBus struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{queues: map[string][][]byte{}}
}

func (b *LocalBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[topic] = append(b.queues[topic], data)
	return nil
}

func (b *LocalBus) Consume(ctx context.Context, topic string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		q := b.queues[topic]
		if len(q) > 0 {
			data := q[0]
			b.queues[topic] = q[1:]
			b.mu.Unlock()
			return data, nil
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, domain.ErrNotFound
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *LocalBus) Requeue(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[topic] = append([][]byte{data}, b.queues[topic]...)
	return nil
}
