package repo

import (
	"context"
	"database/sql"
	"fmt"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// TxStore runs checkout and cancel critical sections in REPEATABLE READ
// transactions with SELECT ... FOR UPDATE row locks.
type TxStore struct{ db *sql.DB }

func NewTxStore(db *sql.DB) *TxStore { return &TxStore{db: db} }

var _ usecase.CheckoutStore = (*TxStore)(nil)

func (s *TxStore) InTx(ctx context.Context, fn func(tx usecase.CheckoutTx) error) error {
	return s.run(ctx, func(tx *sql.Tx) error { return fn(&checkoutTx{tx: tx}) })
}

func (s *TxStore) run(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return classify("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// CancelStore returns the same runner under the cancel transaction surface.
func (s *TxStore) CancelStore() usecase.CancelStore { return cancelStore{s} }

type cancelStore struct{ s *TxStore }

var _ usecase.CancelStore = cancelStore{}

func (c cancelStore) InTx(ctx context.Context, fn func(tx usecase.CancelTx) error) error {
	return c.s.run(ctx, func(tx *sql.Tx) error { return fn(&cancelTx{tx: tx}) })
}

type checkoutTx struct{ tx *sql.Tx }

func (t *checkoutTx) CartItemsForUpdate(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, user_id, product_id, title, price_cents, quantity, reserved_until
FROM cart_items WHERE user_id = ? ORDER BY id FOR UPDATE`, userID)
	if err != nil {
		return nil, classify("lock cart", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Title,
			&it.PriceCents, &it.Quantity, &it.ReservedUntil); err != nil {
			return nil, classify("scan cart item", err)
		}
		items = append(items, it)
	}
	return items, classify("iterate cart", rows.Err())
}

func (t *checkoutTx) InventoryForUpdate(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT product_id, quantity, reserved
FROM inventory WHERE product_id = ? FOR UPDATE`, productID)
	var rec domain.InventoryRecord
	if err := row.Scan(&rec.ProductID, &rec.Quantity, &rec.Reserved); err != nil {
		return nil, classify("lock inventory", err)
	}
	return &rec, nil
}

func (t *checkoutTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	ship, err := addrJSON(o.ShippingAddress)
	if err != nil {
		return err
	}
	bill, err := addrJSON(o.BillingAddress)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO orders
  (id, user_id, status, payment_status, subtotal_cents, tax_cents,
   shipping_cents, total_cents, currency, shipping_address, billing_address,
   notes, idempotency_key, archive_status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.UserID, o.Status, o.PaymentStatus, o.SubtotalCents, o.TaxCents,
		o.ShippingCents, o.TotalCents, o.Currency, ship, bill,
		o.Notes, o.IdempotencyKey, o.ArchiveStatus, o.CreatedAt, o.UpdatedAt)
	return classify("insert order", err)
}

func (t *checkoutTx) InsertOrderItems(ctx context.Context, items []domain.OrderItem) error {
	for _, it := range items {
		_, err := t.tx.ExecContext(ctx, `
INSERT INTO order_items (id, order_id, product_id, title, price_cents, quantity)
VALUES (?,?,?,?,?,?)`,
			it.ID, it.OrderID, it.ProductID, it.Title, it.PriceCents, it.Quantity)
		if err != nil {
			return classify("insert order item", err)
		}
	}
	return nil
}

func (t *checkoutTx) CommitPurchase(ctx context.Context, productID string, qty int64) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE inventory
SET quantity = quantity - ?, reserved = GREATEST(reserved - ?, 0)
WHERE product_id = ?`, qty, qty, productID)
	if err != nil {
		return classify("commit purchase", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("commit purchase", err)
	}
	if n == 0 {
		return fmt.Errorf("commit purchase: product %s missing", productID)
	}
	return nil
}

func (t *checkoutTx) DeleteCart(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	return classify("delete cart", err)
}

type cancelTx struct{ tx *sql.Tx }

func (t *cancelTx) OrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, orderSelect+` WHERE id = ? FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, classify("lock order", err)
	}
	return o, nil
}

func (t *cancelTx) ItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return queryItems(ctx, t.tx, orderID)
}

func (t *cancelTx) RestoreInventory(ctx context.Context, productID string, qty int64) error {
	_, err := t.tx.ExecContext(ctx, `
UPDATE inventory SET quantity = quantity + ? WHERE product_id = ?`, qty, productID)
	return classify("restore inventory", err)
}

func (t *cancelTx) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	_, err := t.tx.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`, status, orderID)
	return classify("set order status", err)
}
