package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Several expired carts can hold the same product, so the release must
// subtract the summed quantity per product, not one arbitrary cart row,
// and the DELETE must share the transaction with the release.
func TestReleaseExpiredReservationsSumsPerProduct(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE inventory i\s+JOIN \(\s+SELECT product_id, SUM\(quantity\) AS expired_qty\s+FROM cart_items\s+WHERE reserved_until < \?\s+GROUP BY product_id\s+\) e ON e\.product_id = i\.product_id\s+SET i\.reserved = GREATEST\(i\.reserved - e\.expired_qty, 0\)`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM cart_items WHERE reserved_until < \?`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	s := NewMySQLRetentionStore(db)
	released, err := s.ReleaseExpiredReservations(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseExpiredReservationsRollsBackWhenDeleteFails(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE inventory i`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM cart_items`).
		WithArgs(now).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	s := NewMySQLRetentionStore(db)
	released, err := s.ReleaseExpiredReservations(context.Background(), now)
	require.Error(t, err)
	assert.Zero(t, released, "a failed release must not report progress")
	assert.NoError(t, mock.ExpectationsWereMet())
}
