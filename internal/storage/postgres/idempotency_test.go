package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/velopay/backend/internal/domain"
)

func TestIdempotencyRepo_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewIdempotencyRepo(db)
	ctx := context.Background()

	key := &domain.IdempotencyKey{
		RequestID: "req-1",
		PaymentID: "pay-1",
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}

	t.Run("first writer wins", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs(key.RequestID, key.PaymentID, key.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		existing, created, err := repo.Put(ctx, key)
		assert.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, existing)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live mapping returns the prior payment", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs(key.RequestID, "pay-2", key.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 0)) // conflict, row still live
		mock.ExpectQuery("FROM idempotency_keys").
			WithArgs(key.RequestID).
			WillReturnRows(sqlmock.NewRows([]string{"request_id", "payment_id", "expires_at"}).
				AddRow(key.RequestID, key.PaymentID, key.ExpiresAt))

		existing, created, err := repo.Put(ctx, &domain.IdempotencyKey{
			RequestID: key.RequestID,
			PaymentID: "pay-2",
			ExpiresAt: key.ExpiresAt,
		})
		assert.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "pay-1", existing.PaymentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired mapping is taken over", func(t *testing.T) {
		// The conditional upsert touches the expired row, so the writer is
		// treated as fresh.
		mock.ExpectExec("INSERT INTO idempotency_keys").
			WithArgs(key.RequestID, "pay-3", key.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		existing, created, err := repo.Put(ctx, &domain.IdempotencyKey{
			RequestID: key.RequestID,
			PaymentID: "pay-3",
			ExpiresAt: key.ExpiresAt,
		})
		assert.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, existing)
	})
}

func TestIdempotencyRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewIdempotencyRepo(db)
	ctx := context.Background()

	t.Run("live mapping", func(t *testing.T) {
		expiresAt := time.Now().UTC().Add(time.Hour)
		mock.ExpectQuery("FROM idempotency_keys").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"request_id", "payment_id", "expires_at"}).
				AddRow("req-1", "pay-1", expiresAt))

		got, err := repo.Get(ctx, "req-1")
		assert.NoError(t, err)
		assert.Equal(t, "pay-1", got.PaymentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired or missing mapping", func(t *testing.T) {
		// The expires_at filter makes an expired row indistinguishable from a
		// missing one.
		mock.ExpectQuery("FROM idempotency_keys").
			WithArgs("req-2").
			WillReturnRows(sqlmock.NewRows([]string{"request_id", "payment_id", "expires_at"}))

		_, err := repo.Get(ctx, "req-2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
