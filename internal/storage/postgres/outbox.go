package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/velopay/backend/internal/domain"
)

type OutboxRepo struct {
	db *sql.DB
}

func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

func (r *OutboxRepo) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, aggregate_id, event_type, correlation_id, payload, retry_count, created_at
		FROM outbox_events
		WHERE published = FALSE AND dead_lettered = FALSE
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.AggregateID, &ev.EventType,
			&ev.CorrelationID, &ev.Payload, &ev.RetryCount, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $1 WHERE id = $2`, publishedAt, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, deadLettered bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, error_message = $1, last_retry_at = NOW(), dead_lettered = $2
		WHERE id = $3`, errMsg, deadLettered, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OutboxRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events WHERE published = TRUE AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type InboxRepo struct {
	db *sql.DB
}

func NewInboxRepo(db *sql.DB) *InboxRepo { return &InboxRepo{db: db} }

// Insert relies on the unique index on event_id for deduplication: a conflict
// means the event was already seen and created=false is returned.
func (r *InboxRepo) Insert(ctx context.Context, event *domain.InboxEvent) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO inbox_events (event_id, event_type, payload, processed, retry_count, received_at)
		VALUES ($1, $2, $3, FALSE, 0, $4)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		event.EventID, event.EventType, event.Payload, event.ReceivedAt).Scan(&event.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *InboxRepo) Get(ctx context.Context, eventID string) (*domain.InboxEvent, error) {
	var ev domain.InboxEvent
	var errMsg sql.NullString
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, event_type, payload, processed, retry_count, error_message, received_at, processed_at
		FROM inbox_events WHERE event_id = $1`, eventID).
		Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.Payload, &ev.Processed, &ev.RetryCount,
			&errMsg, &ev.ReceivedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.ErrorMessage = errMsg.String
	if processedAt.Valid {
		ev.ProcessedAt = processedAt.Time
	}
	return &ev, nil
}

func (r *InboxRepo) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE inbox_events SET processed = TRUE, processed_at = $1 WHERE event_id = $2`, processedAt, eventID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *InboxRepo) MarkFailed(ctx context.Context, eventID string, errMsg string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE inbox_events SET retry_count = retry_count + 1, error_message = $1 WHERE event_id = $2`, errMsg, eventID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *InboxRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM inbox_events WHERE processed = TRUE AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
