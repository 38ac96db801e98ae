package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/idempotency"
)

// MySQLIdempotencyRepo is the durable mirror behind the redis fast store.
type MySQLIdempotencyRepo struct{ db *sql.DB }

func NewMySQLIdempotencyRepo(db *sql.DB) *MySQLIdempotencyRepo {
	return &MySQLIdempotencyRepo{db: db}
}

var _ idempotency.DurableStore = (*MySQLIdempotencyRepo)(nil)

func (r *MySQLIdempotencyRepo) Upsert(ctx context.Context, rec idempotency.Record) error {
	var completed sql.NullTime
	if !rec.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: rec.CompletedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO idempotency_keys (idem_key, status, response, created_at, completed_at)
VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE status = VALUES(status), response = VALUES(response),
                        completed_at = VALUES(completed_at)`,
		rec.Key, rec.Status, rec.Response, rec.CreatedAt, completed)
	return classify("upsert idempotency key", err)
}

func (r *MySQLIdempotencyRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, classify("sweep idempotency keys", err)
	}
	return res.RowsAffected()
}
