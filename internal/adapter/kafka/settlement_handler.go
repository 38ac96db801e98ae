package kafka

import (
	"context"
	"fmt"

	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// SettlementHandler applies asynchronous gateway outcomes to orders.
type SettlementHandler struct {
	Repo    usecase.OrderRepo
	Cache   usecase.StatusCache // optional
	Auditor *audit.Logger
}

func NewSettlementHandler(repo usecase.OrderRepo, cache usecase.StatusCache, auditor *audit.Logger) *SettlementHandler {
	return &SettlementHandler{Repo: repo, Cache: cache, Auditor: auditor}
}

func (h *SettlementHandler) Handle(ctx context.Context, ev usecase.SettlementMsg) error {
	switch ev.Status {
	case "SETTLED":
		if err := h.Repo.UpdatePaymentStatus(ctx, ev.OrderID, domain.PaymentCompleted); err != nil {
			return err
		}
		h.Auditor.PaymentCompleted(ctx, ev.OrderID, 0)
	case "FAILED":
		if err := h.Repo.UpdatePaymentStatus(ctx, ev.OrderID, domain.PaymentFailed); err != nil {
			return err
		}
		h.Auditor.PaymentFailed(ctx, ev.OrderID, "gateway settlement failed")
	case "REFUNDED":
		if err := h.Repo.UpdatePaymentStatus(ctx, ev.OrderID, domain.PaymentRefunded); err != nil {
			return err
		}
		// Guarded flip; a partially shipped order keeps its status.
		ok, err := h.Repo.UpdateStatusIf(ctx, ev.OrderID, domain.OrderDelivered, domain.OrderRefunded)
		if err != nil {
			return err
		}
		if ok && h.Cache != nil {
			_ = h.Cache.SetStatus(ctx, ev.OrderID, string(domain.OrderRefunded))
		}
		h.Auditor.Record(ctx, audit.Entry{
			Action:   audit.ActionOrderRefunded,
			Actor:    audit.SystemActor,
			Resource: audit.Resource{Type: "order", ID: ev.OrderID},
		})
	default:
		return fmt.Errorf("unknown settlement status %q", ev.Status)
	}
	return nil
}
