package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/velopay/backend/internal/domain"
)

type SagaRepo struct {
	db *sql.DB
}

func NewSagaRepo(db *sql.DB) *SagaRepo { return &SagaRepo{db: db} }

const sagaColumns = `id, request_id, from_account_id, to_account_id, from_currency, to_currency,
	from_amount_minor, to_amount_minor, fee_minor, fx_rate_lock_id, locked_rate, fx_spread,
	fx_provider, rate_lock_expires_at, fx_conversion_id, status, saga_state, current_step,
	retry_count, failure_reason, error_message, version, created_at, updated_at`

func insertOutboxEvents(ctx context.Context, tx *sql.Tx, events []domain.OutboxEvent) error {
	for _, ev := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_events (event_id, aggregate_id, event_type, correlation_id, payload, published, retry_count, created_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, 0, $6)`,
			ev.EventID, ev.AggregateID, ev.EventType, ev.CorrelationID, ev.Payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("append outbox event %s: %w", ev.EventType, err)
		}
	}
	return nil
}

func (r *SagaRepo) Create(ctx context.Context, saga *domain.PaymentSaga, events ...domain.OutboxEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_sagas (`+sagaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		saga.ID, saga.RequestID, saga.FromAccountID, saga.ToAccountID, saga.FromCurrency, saga.ToCurrency,
		saga.FromAmountMinor, saga.ToAmountMinor, saga.FeeMinor, nullable(saga.FXRateLockID),
		saga.LockedRate.String(), saga.FXSpread.String(), nullable(saga.FXProvider),
		nullTime(saga.RateLockExpiresAt), nullable(saga.FXConversionID), saga.Status, saga.SagaState,
		nullable(saga.CurrentStep), saga.RetryCount, nullable(saga.FailureReason), nullable(saga.ErrorMessage),
		saga.Version, saga.CreatedAt, saga.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertOutboxEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SagaRepo) scanSaga(scan func(dest ...any) error) (*domain.PaymentSaga, error) {
	var s domain.PaymentSaga
	var lockID, provider, conversionID, step, failureReason, errMsg sql.NullString
	var lockedRate, spread string
	var lockExpires sql.NullTime
	err := scan(&s.ID, &s.RequestID, &s.FromAccountID, &s.ToAccountID, &s.FromCurrency, &s.ToCurrency,
		&s.FromAmountMinor, &s.ToAmountMinor, &s.FeeMinor, &lockID, &lockedRate, &spread,
		&provider, &lockExpires, &conversionID, &s.Status, &s.SagaState, &step,
		&s.RetryCount, &failureReason, &errMsg, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.FXRateLockID = lockID.String
	s.FXProvider = provider.String
	s.FXConversionID = conversionID.String
	s.CurrentStep = step.String
	s.FailureReason = failureReason.String
	s.ErrorMessage = errMsg.String
	if lockExpires.Valid {
		s.RateLockExpiresAt = lockExpires.Time
	}
	if s.LockedRate, err = decimal.NewFromString(lockedRate); err != nil {
		return nil, fmt.Errorf("parse locked rate: %w", err)
	}
	if s.FXSpread, err = decimal.NewFromString(spread); err != nil {
		return nil, fmt.Errorf("parse fx spread: %w", err)
	}
	return &s, nil
}

func (r *SagaRepo) GetByID(ctx context.Context, id string) (*domain.PaymentSaga, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM payment_sagas WHERE id = $1`, id)
	return r.scanSaga(row.Scan)
}

func (r *SagaRepo) GetByRequestID(ctx context.Context, requestID string) (*domain.PaymentSaga, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM payment_sagas WHERE request_id = $1`, requestID)
	return r.scanSaga(row.Scan)
}

// Update persists the saga and appends its outbox events in one transaction,
// with a compare-and-swap on (id, version).
func (r *SagaRepo) Update(ctx context.Context, saga *domain.PaymentSaga, expectedVersion int64, events ...domain.OutboxEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE payment_sagas
		SET to_amount_minor = $1, fx_rate_lock_id = $2, locked_rate = $3, fx_spread = $4,
		    fx_provider = $5, rate_lock_expires_at = $6, fx_conversion_id = $7, status = $8,
		    saga_state = $9, current_step = $10, retry_count = $11, failure_reason = $12,
		    error_message = $13, version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`,
		saga.ToAmountMinor, nullable(saga.FXRateLockID), saga.LockedRate.String(), saga.FXSpread.String(),
		nullable(saga.FXProvider), nullTime(saga.RateLockExpiresAt), nullable(saga.FXConversionID), saga.Status,
		saga.SagaState, nullable(saga.CurrentStep), saga.RetryCount, nullable(saga.FailureReason),
		nullable(saga.ErrorMessage), saga.UpdatedAt, saga.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: saga %s expected version %d", domain.ErrVersionConflict, saga.ID, expectedVersion)
	}
	if err := insertOutboxEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	saga.Version = expectedVersion + 1
	return nil
}

func (r *SagaRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.PaymentSaga, error) {
	query := `SELECT ` + sagaColumns + ` FROM payment_sagas`
	args := []any{}
	if accountID != "" {
		query += ` WHERE from_account_id = $1 OR to_account_id = $1`
		args = append(args, accountID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PaymentSaga
	for rows.Next() {
		s, err := r.scanSaga(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
