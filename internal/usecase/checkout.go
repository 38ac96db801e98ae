package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/idempotency"
	"github.com/evgenyvinnik/checkout-api/internal/retry"
	"github.com/google/uuid"
)

// Pricing holds the checkout money rules. All values come from config;
// legal/tax people change these without a deploy.
type Pricing struct {
	Currency                   string
	TaxRateBps                 int64
	FreeShippingThresholdCents int64
	ShippingFlatFeeCents       int64
}

type CheckoutInput struct {
	UserID          string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	PaymentMethod   string
	Notes           string
	IdempotencyKey  string
	ClientIP        string
	CorrelationID   string
}

type CheckoutOutput struct {
	Order *domain.Order      `json:"order"`
	Items []domain.OrderItem `json:"items"`
	// Replayed marks an idempotent replay: no side effect re-executed.
	Replayed bool `json:"replayed,omitempty"`
	// DegradedIdempotency is set when the client omitted the key and a
	// synthesized one was used, which gives no double-click protection.
	DegradedIdempotency bool `json:"degradedIdempotency,omitempty"`
}

// Checkout turns a cart into a durable order exactly once per idempotency
// key. The transactional body runs under the database retry profile; the
// caller invokes the payment orchestrator afterwards.
type Checkout struct {
	store   CheckoutStore
	idem    *idempotency.Manager
	auditor *audit.Logger
	pricing Pricing
	dbRetry retry.Options
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewCheckout(store CheckoutStore, idem *idempotency.Manager, auditor *audit.Logger, pricing Pricing, dbRetry retry.Options, log *slog.Logger) *Checkout {
	return &Checkout{
		store:   store,
		idem:    idem,
		auditor: auditor,
		pricing: pricing,
		dbRetry: dbRetry,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	if err := validateAddress("shippingAddress", in.ShippingAddress); err != nil {
		return CheckoutOutput{}, err
	}
	billing := in.BillingAddress
	if billing.Empty() {
		billing = in.ShippingAddress
	}

	key := in.IdempotencyKey
	degraded := false
	if key == "" {
		key = uc.idem.SynthesizeKey(in.UserID)
		degraded = true
	}

	begin, err := uc.idem.Begin(ctx, key)
	if err != nil {
		return CheckoutOutput{}, err
	}
	if begin.Duplicate {
		if begin.Processing {
			return CheckoutOutput{}, apperr.ErrIdempotencyConflict
		}
		var out CheckoutOutput
		if err := json.Unmarshal(begin.CachedResponse, &out); err != nil {
			return CheckoutOutput{}, fmt.Errorf("decode cached checkout response: %w", err)
		}
		out.Replayed = true
		return out, nil
	}

	order := &domain.Order{
		ID:              uc.newID(),
		UserID:          in.UserID,
		Status:          domain.OrderPending,
		PaymentStatus:   domain.PaymentPending,
		Currency:        uc.pricing.Currency,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  billing,
		Notes:           in.Notes,
		IdempotencyKey:  key,
		ArchiveStatus:   domain.ArchiveActive,
		CreatedAt:       uc.now(),
		UpdatedAt:       uc.now(),
	}

	items, err := retry.Do(ctx, uc.dbRetry, func(ctx context.Context) ([]domain.OrderItem, error) {
		return uc.runCheckoutTx(ctx, order)
	})
	if err != nil {
		// Mark failed so a future request may retry under the same key.
		if ferr := uc.idem.Fail(ctx, key, begin.Owner); ferr != nil {
			uc.log.Warn("idempotency fail-mark after checkout error", "key", key, "error", ferr)
		}
		return CheckoutOutput{}, err
	}

	uc.auditor.OrderCreated(ctx, audit.Actor{Type: audit.ActorUser, ID: in.UserID}, order,
		audit.RequestContext{IP: in.ClientIP, CorrelationID: in.CorrelationID})

	out := CheckoutOutput{Order: order, Items: items, DegradedIdempotency: degraded}
	resp, err := json.Marshal(out)
	if err == nil {
		err = uc.idem.Complete(ctx, key, begin.Owner, resp)
	}
	if err != nil {
		// The order is committed; losing the cached replay copy only
		// costs a 409 on the next retry of this key.
		uc.log.Warn("idempotency complete failed", "key", key, "order_id", order.ID, "error", err)
	}
	return out, nil
}

// runCheckoutTx executes the locked critical section: cart read through
// commit. Prices are computed against the locked cart lines and the
// inventory check is against total owned units; reservation was already
// taken when the item entered the cart.
func (uc *Checkout) runCheckoutTx(ctx context.Context, order *domain.Order) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := uc.store.InTx(ctx, func(tx CheckoutTx) error {
		cart, err := tx.CartItemsForUpdate(ctx, order.UserID)
		if err != nil {
			return err
		}
		if len(cart) == 0 {
			return apperr.ErrEmptyCart
		}

		var subtotal int64
		for _, line := range cart {
			inv, err := tx.InventoryForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if inv == nil || inv.Quantity < line.Quantity {
				var available int64
				if inv != nil {
					available = inv.Quantity
				}
				return &apperr.InsufficientInventoryError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: available,
				}
			}
			subtotal += line.PriceCents * line.Quantity
		}

		order.SubtotalCents = subtotal
		order.TaxCents = subtotal * uc.pricing.TaxRateBps / 10000
		if subtotal >= uc.pricing.FreeShippingThresholdCents {
			order.ShippingCents = 0
		} else {
			order.ShippingCents = uc.pricing.ShippingFlatFeeCents
		}
		order.TotalCents = order.SubtotalCents + order.TaxCents + order.ShippingCents

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		items = items[:0]
		for _, line := range cart {
			items = append(items, domain.OrderItem{
				ID:         uc.newID(),
				OrderID:    order.ID,
				ProductID:  line.ProductID,
				Title:      line.Title,
				PriceCents: line.PriceCents,
				Quantity:   line.Quantity,
			})
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}
		for _, line := range cart {
			if err := tx.CommitPurchase(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.DeleteCart(ctx, order.UserID)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func validateAddress(field string, a domain.Address) error {
	if a.Street == "" {
		return &apperr.ValidationError{Field: field + ".street", Reason: "required"}
	}
	if a.City == "" {
		return &apperr.ValidationError{Field: field + ".city", Reason: "required"}
	}
	return nil
}
