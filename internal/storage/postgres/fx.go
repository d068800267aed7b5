package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/velopay/backend/internal/domain"
)

type RateLockRepo struct {
	db *sql.DB
}

func NewRateLockRepo(db *sql.DB) *RateLockRepo { return &RateLockRepo{db: db} }

const lockColumns = `id, base_currency, quote_currency, locked_rate, spread, provider,
	account_id, correlation_id, status, locked_at, expires_at, used_at, version`

func (r *RateLockRepo) Create(ctx context.Context, lock *domain.FXRateLock) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fx_rate_locks (`+lockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		lock.ID, lock.BaseCurrency, lock.QuoteCurrency, lock.Rate.String(), lock.Spread.String(),
		lock.Provider, lock.AccountID, lock.CorrelationID, lock.Status,
		lock.LockedAt, lock.ExpiresAt, nullTime(lock.UsedAt), lock.Version)
	return err
}

func scanLock(scan func(dest ...any) error) (*domain.FXRateLock, error) {
	var l domain.FXRateLock
	var rate, spread string
	var usedAt sql.NullTime
	err := scan(&l.ID, &l.BaseCurrency, &l.QuoteCurrency, &rate, &spread, &l.Provider,
		&l.AccountID, &l.CorrelationID, &l.Status, &l.LockedAt, &l.ExpiresAt, &usedAt, &l.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		l.UsedAt = usedAt.Time
	}
	if l.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	if l.Spread, err = decimal.NewFromString(spread); err != nil {
		return nil, fmt.Errorf("parse spread: %w", err)
	}
	return &l, nil
}

func (r *RateLockRepo) GetByID(ctx context.Context, id string) (*domain.FXRateLock, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM fx_rate_locks WHERE id = $1`, id)
	return scanLock(row.Scan)
}

func (r *RateLockRepo) Update(ctx context.Context, lock *domain.FXRateLock, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE fx_rate_locks
		SET status = $1, used_at = $2, version = version + 1
		WHERE id = $3 AND version = $4`,
		lock.Status, nullTime(lock.UsedAt), lock.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: rate lock %s expected version %d", domain.ErrVersionConflict, lock.ID, expectedVersion)
	}
	lock.Version = expectedVersion + 1
	return nil
}

func (r *RateLockRepo) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domain.FXRateLock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lockColumns+` FROM fx_rate_locks
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at`, domain.RateLockActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FXRateLock
	for rows.Next() {
		l, err := scanLock(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *RateLockRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM fx_rate_locks
		WHERE status <> $1 AND expires_at < $2`, domain.RateLockActive, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type RateRepo struct {
	db *sql.DB
}

func NewRateRepo(db *sql.DB) *RateRepo { return &RateRepo{db: db} }

func (r *RateRepo) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (base_currency, quote_currency, rate, spread, provider, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (base_currency, quote_currency)
		DO UPDATE SET rate = $3, spread = $4, provider = $5, fetched_at = $6`,
		rate.BaseCurrency, rate.QuoteCurrency, rate.Rate.String(), rate.Spread.String(), rate.Provider, rate.FetchedAt)
	return err
}

func (r *RateRepo) Latest(ctx context.Context, base, quote string) (*domain.ExchangeRate, error) {
	var rate domain.ExchangeRate
	var rateStr, spreadStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT base_currency, quote_currency, rate, spread, provider, fetched_at
		FROM exchange_rates
		WHERE base_currency = $1 AND quote_currency = $2`, base, quote).
		Scan(&rate.BaseCurrency, &rate.QuoteCurrency, &rateStr, &spreadStr, &rate.Provider, &rate.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rate.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	if rate.Spread, err = decimal.NewFromString(spreadStr); err != nil {
		return nil, fmt.Errorf("parse spread: %w", err)
	}
	return &rate, nil
}

type ConversionRepo struct {
	db *sql.DB
}

func NewConversionRepo(db *sql.DB) *ConversionRepo { return &ConversionRepo{db: db} }

func (r *ConversionRepo) Create(ctx context.Context, conv *domain.FXConversion) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fx_conversions (id, account_id, correlation_id, rate_lock_id, from_currency, to_currency,
			from_amount_minor, to_amount_minor, rate, spread, provider, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		conv.ID, conv.AccountID, conv.CorrelationID, conv.RateLockID, conv.FromCurrency, conv.ToCurrency,
		conv.FromAmountMinor, conv.ToAmountMinor, conv.Rate.String(), conv.Spread.String(),
		conv.Provider, conv.Status, conv.CreatedAt)
	return err
}

func (r *ConversionRepo) GetByID(ctx context.Context, id string) (*domain.FXConversion, error) {
	var c domain.FXConversion
	var rateStr, spreadStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, correlation_id, rate_lock_id, from_currency, to_currency,
		       from_amount_minor, to_amount_minor, rate, spread, provider, status, created_at
		FROM fx_conversions WHERE id = $1`, id).
		Scan(&c.ID, &c.AccountID, &c.CorrelationID, &c.RateLockID, &c.FromCurrency, &c.ToCurrency,
			&c.FromAmountMinor, &c.ToAmountMinor, &rateStr, &spreadStr, &c.Provider, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	if c.Spread, err = decimal.NewFromString(spreadStr); err != nil {
		return nil, fmt.Errorf("parse spread: %w", err)
	}
	return &c, nil
}

func (r *ConversionRepo) MarkReversed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE fx_conversions SET status = $1 WHERE id = $2`, domain.ConversionReversed, id)
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
