package usecase

import (
	"context"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
)

// CheckoutStore runs the checkout critical section in one transaction at
// repeatable-read-or-stronger isolation. Weaker isolation makes oversell
// possible across users racing for the same product.
type CheckoutStore interface {
	InTx(ctx context.Context, fn func(tx CheckoutTx) error) error
}

// CheckoutTx is the per-transaction surface. The cart read takes exclusive
// row locks so concurrent checkouts for one user serialize; locks are held
// from cart read to commit and no longer.
type CheckoutTx interface {
	CartItemsForUpdate(ctx context.Context, userID string) ([]domain.CartItem, error)
	InventoryForUpdate(ctx context.Context, productID string) (*domain.InventoryRecord, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertOrderItems(ctx context.Context, items []domain.OrderItem) error
	// CommitPurchase decrements quantity and reserved by qty for one
	// product; reserved is floor-clamped at zero.
	CommitPurchase(ctx context.Context, productID string, qty int64) error
	DeleteCart(ctx context.Context, userID string) error
}

type OrderRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	// UpdateStatusIf flips status only when the current value matches;
	// returns false when nothing matched.
	UpdateStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error
}

// CancelStore restores inventory and flips the order atomically.
type CancelStore interface {
	InTx(ctx context.Context, fn func(tx CancelTx) error) error
}

type CancelTx interface {
	OrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error)
	ItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	RestoreInventory(ctx context.Context, productID string, qty int64) error
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// PaymentGateway is the failure-prone external dependency. Protocol
// details are its own business; it answers approved or declined.
type PaymentGateway interface {
	Charge(ctx context.Context, ch Charge) (ChargeResult, error)
}

type Charge struct {
	OrderID     string `json:"orderId"`
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
}

type ChargeResult struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentQueue parks charges while the payment circuit is open; a consumer
// re-attempts them once capacity returns.
type PaymentQueue interface {
	PublishQueued(ctx context.Context, msg QueuedPaymentMsg) error
}

type QueuedPaymentMsg struct {
	OrderID     string `json:"orderId"`
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Reason      string `json:"reason,omitempty"`
}

// SettlementMsg is the gateway's asynchronous outcome, consumed from the
// event stream.
type SettlementMsg struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"` // e.g. "SETTLED", "FAILED", "REFUNDED"
}

// StatusCache keeps the latest order status in the fast store for reads.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, status string) error
	GetStatus(ctx context.Context, orderID string) (string, bool, error)
}

// StatsRepo backs the read-only retention stats endpoint.
type StatsRepo interface {
	RetentionStats(ctx context.Context) (*RetentionStats, error)
}

type RetentionStats struct {
	ActiveOrders     int64 `json:"activeOrders"`
	ArchivedOrders   int64 `json:"archivedOrders"`
	AnonymizedOrders int64 `json:"anonymizedOrders"`
	ExpiredCartItems int64 `json:"expiredCartItems"`
	AuditLogEntries  int64 `json:"auditLogEntries"`
}
