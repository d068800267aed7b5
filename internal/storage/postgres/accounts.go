// Package postgres implements the domain repositories over database/sql with
// raw queries and explicit optimistic-version compare-and-swap updates.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/velopay/backend/internal/domain"
)

type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

func (r *AccountRepo) Create(ctx context.Context, account *domain.MultiCurrencyAccount) error {
	balances, err := json.Marshal(account.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, account_number, holder_name, email, status, balances, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		account.ID, account.AccountNumber, account.HolderName, account.Email,
		account.Status, balances, account.Version, account.CreatedAt, account.UpdatedAt)
	return err
}

func (r *AccountRepo) scanAccount(row *sql.Row) (*domain.MultiCurrencyAccount, error) {
	var a domain.MultiCurrencyAccount
	var balances []byte
	err := row.Scan(&a.ID, &a.AccountNumber, &a.HolderName, &a.Email, &a.Status,
		&balances, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(balances, &a.Balances); err != nil {
		return nil, fmt.Errorf("unmarshal balances: %w", err)
	}
	return &a, nil
}

const selectAccount = `
	SELECT id, account_number, holder_name, email, status, balances, version, created_at, updated_at
	FROM accounts`

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.MultiCurrencyAccount, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, id))
}

func (r *AccountRepo) GetByNumber(ctx context.Context, accountNumber string) (*domain.MultiCurrencyAccount, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, selectAccount+` WHERE account_number = $1`, accountNumber))
}

// Update persists a new snapshot with a compare-and-swap on (id, version).
// When opID is set, the operation id is recorded in the same transaction;
// a previously recorded id aborts with ErrDuplicateOperation so retried
// balance mutations apply at most once.
func (r *AccountRepo) Update(ctx context.Context, account *domain.MultiCurrencyAccount, expectedVersion int64, opID string) error {
	balances, err := json.Marshal(account.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if opID != "" {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO account_operations (op_id, account_id, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (op_id) DO NOTHING`, opID, account.ID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return domain.ErrDuplicateOperation
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET holder_name = $1, email = $2, status = $3, balances = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8`,
		account.HolderName, account.Email, account.Status, balances,
		account.Version, account.UpdatedAt, account.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: account %s expected version %d", domain.ErrVersionConflict, account.ID, expectedVersion)
	}

	return tx.Commit()
}
