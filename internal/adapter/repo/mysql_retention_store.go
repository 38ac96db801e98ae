package repo

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/retention"
)

// MySQLRetentionStore backs the lifecycle job. Archival writes the sealed
// blob and nulls the hot row's PII in one transaction per order.
type MySQLRetentionStore struct{ db *sql.DB }

func NewMySQLRetentionStore(db *sql.DB) *MySQLRetentionStore {
	return &MySQLRetentionStore{db: db}
}

var _ retention.Store = (*MySQLRetentionStore)(nil)

func (s *MySQLRetentionStore) ReleaseExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin release tx", err)
	}
	defer tx.Rollback()

	// Sum the expired holds per product before joining: a multi-table
	// UPDATE applies at most one matched row per target row, so joining
	// cart_items directly would release only one of several expired
	// carts holding the same product. The same transaction covers the
	// DELETE so a row cannot expire between release and removal.
	res, err := tx.ExecContext(ctx, `
UPDATE inventory i
JOIN (
    SELECT product_id, SUM(quantity) AS expired_qty
    FROM cart_items
    WHERE reserved_until < ?
    GROUP BY product_id
) e ON e.product_id = i.product_id
SET i.reserved = GREATEST(i.reserved - e.expired_qty, 0)`, now)
	if err != nil {
		return 0, classify("release reservations", err)
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE reserved_until < ?`, now); err != nil {
		return 0, classify("delete expired cart items", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit release", err)
	}
	return released, nil
}

func (s *MySQLRetentionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, classify("delete sessions", err)
	}
	return res.RowsAffected()
}

func (s *MySQLRetentionStore) DeleteSearchLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, classify("delete search logs", err)
	}
	return res.RowsAffected()
}

func (s *MySQLRetentionStore) ArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, orderSelect+`
WHERE status IN (?,?,?) AND archive_status = ? AND created_at < ?
ORDER BY created_at LIMIT ?`,
		domain.OrderDelivered, domain.OrderCancelled, domain.OrderRefunded,
		domain.ArchiveActive, cutoff, limit)
	if err != nil {
		return nil, classify("archive candidates", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, classify("scan archive candidate", err)
		}
		orders = append(orders, *o)
	}
	return orders, classify("iterate archive candidates", rows.Err())
}

func (s *MySQLRetentionStore) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return queryItems(ctx, s.db, orderID)
}

func (s *MySQLRetentionStore) ArchiveOrder(ctx context.Context, orderID string, blob []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin archive tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO order_archive (order_id, blob, archived_at)
VALUES (?,?,NOW())
ON DUPLICATE KEY UPDATE blob = VALUES(blob), archived_at = NOW()`,
		orderID, blob); err != nil {
		return classify("write archive blob", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE orders
SET shipping_address = NULL, billing_address = NULL, notes = NULL,
    archive_status = ?, updated_at = NOW()
WHERE id = ?`, domain.ArchiveArchived, orderID); err != nil {
		return classify("null archived pii", err)
	}

	return classify("commit archive", tx.Commit())
}

func (s *MySQLRetentionStore) AnonymizeOrdersOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id FROM orders
WHERE archive_status = ? AND created_at < ?`,
		domain.ArchiveArchived, cutoff)
	if err != nil {
		return nil, classify("anonymize candidates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan anonymize candidate", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate anonymize candidates", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
UPDATE orders
SET user_id = CONCAT('anon-', id), archive_status = ?, updated_at = NOW()
WHERE id = ?`, domain.ArchiveAnonymized, id); err != nil {
			return nil, classify("anonymize order", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM order_archive WHERE order_id = ?`, id); err != nil {
			return nil, classify("drop archive blob", err)
		}
	}
	return ids, nil
}
