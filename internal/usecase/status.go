package usecase

import (
	"context"
	"log/slog"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
)

// UpdateOrderStatus is the privileged admin transition along the fixed
// status graph. The guarded update tolerates concurrent admins: whoever
// loses the race gets a validation error instead of clobbering.
type UpdateOrderStatus struct {
	orders  OrderRepo
	auditor *audit.Logger
	cache   StatusCache
	log     *slog.Logger
}

func NewUpdateOrderStatus(orders OrderRepo, auditor *audit.Logger, cache StatusCache, log *slog.Logger) *UpdateOrderStatus {
	return &UpdateOrderStatus{orders: orders, auditor: auditor, cache: cache, log: log}
}

func (uc *UpdateOrderStatus) Execute(ctx context.Context, orderID string, to domain.OrderStatus,
	actor audit.Actor, rc audit.RequestContext) (*domain.Order, error) {

	if !to.Valid() {
		return nil, &apperr.ValidationError{Field: "status", Reason: "unknown status value"}
	}

	o, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.ErrNotFound
	}
	from := o.Status
	if !from.CanTransitionTo(to) {
		return nil, &apperr.ValidationError{
			Field:  "status",
			Reason: "transition " + string(from) + " -> " + string(to) + " not allowed",
		}
	}

	moved, err := uc.orders.UpdateStatusIf(ctx, orderID, from, to)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, &apperr.ValidationError{Field: "status", Reason: "order status changed concurrently"}
	}

	uc.auditor.OrderStatusChanged(ctx, actor, orderID, from, to, rc)
	o.Status = to
	if uc.cache != nil {
		if err := uc.cache.SetStatus(ctx, orderID, string(to)); err != nil {
			uc.log.Debug("status cache refresh failed", "order_id", orderID, "error", err)
		}
	}
	return o, nil
}
