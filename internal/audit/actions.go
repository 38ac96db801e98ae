package audit

import (
	"context"
	"encoding/json"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
)

// Convenience wrappers for the fixed lifecycle actions. Marshal failures
// degrade to a nil snapshot rather than dropping the event.

func snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func orderResource(id string) Resource { return Resource{Type: "order", ID: id} }

func (l *Logger) OrderCreated(ctx context.Context, actor Actor, o *domain.Order, rc RequestContext) string {
	return l.Record(ctx, Entry{
		Action:   ActionOrderCreated,
		Actor:    actor,
		Resource: orderResource(o.ID),
		NewValue: snapshot(o),
		Context:  rc,
	})
}

func (l *Logger) OrderCancelled(ctx context.Context, actor Actor, o *domain.Order, rc RequestContext) string {
	return l.Record(ctx, Entry{
		Action:   ActionOrderCancelled,
		Actor:    actor,
		Resource: orderResource(o.ID),
		OldValue: snapshot(map[string]any{"status": o.Status}),
		NewValue: snapshot(map[string]any{"status": domain.OrderCancelled}),
		Context:  rc,
	})
}

func (l *Logger) OrderStatusChanged(ctx context.Context, actor Actor, orderID string, from, to domain.OrderStatus, rc RequestContext) string {
	return l.Record(ctx, Entry{
		Action:   ActionOrderStatusChanged,
		Actor:    actor,
		Resource: orderResource(orderID),
		OldValue: snapshot(map[string]any{"status": from}),
		NewValue: snapshot(map[string]any{"status": to}),
		Context:  rc,
	})
}

func (l *Logger) PaymentCompleted(ctx context.Context, orderID string, amountCents int64) string {
	return l.Record(ctx, Entry{
		Action:   ActionPaymentCompleted,
		Actor:    SystemActor,
		Resource: orderResource(orderID),
		NewValue: snapshot(map[string]any{"paymentStatus": domain.PaymentCompleted, "amountCents": amountCents}),
	})
}

func (l *Logger) PaymentFailed(ctx context.Context, orderID string, reason string) string {
	return l.Record(ctx, Entry{
		Action:   ActionPaymentFailed,
		Actor:    SystemActor,
		Resource: orderResource(orderID),
		NewValue: snapshot(map[string]any{"paymentStatus": domain.PaymentFailed, "reason": reason}),
		Severity: SeverityWarning,
	})
}

func (l *Logger) PaymentQueued(ctx context.Context, orderID string, reason string) string {
	return l.Record(ctx, Entry{
		Action:   ActionPaymentQueued,
		Actor:    SystemActor,
		Resource: orderResource(orderID),
		NewValue: snapshot(map[string]any{"reason": reason}),
		Severity: SeverityWarning,
	})
}

func (l *Logger) InventoryReleased(ctx context.Context, productID string, quantity int64) string {
	return l.Record(ctx, Entry{
		Action:   ActionInventoryReleased,
		Actor:    SystemActor,
		Resource: Resource{Type: "inventory", ID: productID},
		NewValue: snapshot(map[string]any{"released": quantity}),
	})
}

func (l *Logger) OrderArchived(ctx context.Context, orderID string) string {
	return l.Record(ctx, Entry{
		Action:   ActionOrderArchived,
		Actor:    SystemActor,
		Resource: orderResource(orderID),
		NewValue: snapshot(map[string]any{"archiveStatus": domain.ArchiveArchived}),
	})
}

func (l *Logger) OrderAnonymized(ctx context.Context, orderID string) string {
	return l.Record(ctx, Entry{
		Action:   ActionOrderAnonymized,
		Actor:    SystemActor,
		Resource: orderResource(orderID),
		NewValue: snapshot(map[string]any{"archiveStatus": domain.ArchiveAnonymized}),
	})
}
