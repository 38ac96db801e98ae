package usecase

import (
	"context"
	"log/slog"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/retry"
)

// CancelOrder cancels a pending or confirmed order and restores the
// purchased units to inventory quantity in the same transaction.
type CancelOrder struct {
	store   CancelStore
	auditor *audit.Logger
	cache   StatusCache
	dbRetry retry.Options
	log     *slog.Logger
}

func NewCancelOrder(store CancelStore, auditor *audit.Logger, cache StatusCache, dbRetry retry.Options, log *slog.Logger) *CancelOrder {
	return &CancelOrder{store: store, auditor: auditor, cache: cache, dbRetry: dbRetry, log: log}
}

func (uc *CancelOrder) Execute(ctx context.Context, orderID string, actor audit.Actor, rc audit.RequestContext) (*domain.Order, error) {
	var cancelled *domain.Order
	var restored []domain.OrderItem

	_, err := retry.Do(ctx, uc.dbRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, uc.store.InTx(ctx, func(tx CancelTx) error {
			o, err := tx.OrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return apperr.ErrNotFound
			}
			if actor.Type == audit.ActorUser && o.UserID != actor.ID {
				return apperr.ErrForbidden
			}
			if o.Status != domain.OrderPending && o.Status != domain.OrderConfirmed {
				return &apperr.ValidationError{
					Field:  "status",
					Reason: "only pending or confirmed orders can be cancelled",
				}
			}

			items, err := tx.ItemsByOrderID(ctx, orderID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := tx.RestoreInventory(ctx, it.ProductID, it.Quantity); err != nil {
					return err
				}
			}
			if err := tx.SetStatus(ctx, orderID, domain.OrderCancelled); err != nil {
				return err
			}
			cancelled = o
			restored = items
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	uc.auditor.OrderCancelled(ctx, actor, cancelled, rc)
	for _, it := range restored {
		uc.auditor.InventoryReleased(ctx, it.ProductID, it.Quantity)
	}
	cancelled.Status = domain.OrderCancelled
	if uc.cache != nil {
		if err := uc.cache.SetStatus(ctx, cancelled.ID, string(domain.OrderCancelled)); err != nil {
			uc.log.Debug("status cache refresh failed", "order_id", cancelled.ID, "error", err)
		}
	}
	return cancelled, nil
}
