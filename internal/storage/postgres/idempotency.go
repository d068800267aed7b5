package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/velopay/backend/internal/domain"
)

type IdempotencyRepo struct {
	db *sql.DB
}

func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

// Put races on the request_id primary key: the first writer wins and later
// writers get the existing mapping back. An expired row does not count as a
// prior winner; the conditional upsert takes it over as a fresh mapping.
func (r *IdempotencyRepo) Put(ctx context.Context, key *domain.IdempotencyKey) (*domain.IdempotencyKey, bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (request_id, payment_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO UPDATE
		SET payment_id = EXCLUDED.payment_id, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= NOW()`,
		key.RequestID, key.PaymentID, key.ExpiresAt)
	if err != nil {
		return nil, false, err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil, true, nil
	}
	existing, err := r.Get(ctx, key.RequestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, requestID string) (*domain.IdempotencyKey, error) {
	var key domain.IdempotencyKey
	err := r.db.QueryRowContext(ctx, `
		SELECT request_id, payment_id, expires_at FROM idempotency_keys
		WHERE request_id = $1 AND expires_at > NOW()`, requestID).
		Scan(&key.RequestID, &key.PaymentID, &key.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) Append(ctx context.Context, entries []domain.LedgerEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, payment_id, account_id, direction, amount_minor, currency, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.PaymentID, e.AccountID, e.Direction, e.AmountMinor, e.Currency, e.BalanceAfter, e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *LedgerRepo) ListByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, account_id, direction, amount_minor, currency, balance_after, created_at
		FROM ledger_entries WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.AccountID, &e.Direction, &e.AmountMinor,
			&e.Currency, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
