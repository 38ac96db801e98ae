package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

const orderSelect = `
SELECT id, user_id, status, payment_status, subtotal_cents, tax_cents,
       shipping_cents, total_cents, currency, shipping_address, billing_address,
       notes, idempotency_key, archive_status, created_at, updated_at
FROM orders`

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, classify("get order", err)
	}
	return o, nil
}

func (r *MySQLOrderRepo) ItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return queryItems(ctx, r.db, orderID)
}

func (r *MySQLOrderRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, updated_at = NOW()
        WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, classify("update status", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	// rows == 0 → nothing matched (either not found or status mismatch)
	return rows > 0, nil
}

func (r *MySQLOrderRepo) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET payment_status = ?, updated_at = NOW()
        WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return classify("update payment status", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		ship, bill []byte
		notes      sql.NullString
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.TotalCents,
		&o.Currency, &ship, &bill, &notes, &o.IdempotencyKey,
		&o.ArchiveStatus, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Notes = notes.String
	if len(ship) > 0 {
		if err := json.Unmarshal(ship, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	if len(bill) > 0 {
		if err := json.Unmarshal(bill, &o.BillingAddress); err != nil {
			return nil, fmt.Errorf("decode billing address: %w", err)
		}
	}
	return &o, nil
}

func queryItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, order_id, product_id, title, price_cents, quantity
FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, classify("query order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Title,
			&it.PriceCents, &it.Quantity); err != nil {
			return nil, classify("scan order item", err)
		}
		items = append(items, it)
	}
	return items, classify("iterate order items", rows.Err())
}

// addrJSON serializes an address snapshot for the column; nulled PII comes
// back as NULL, not as "{}".
func addrJSON(a domain.Address) ([]byte, error) {
	if a.Empty() {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	return b, nil
}
