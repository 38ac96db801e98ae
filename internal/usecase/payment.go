package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
	"github.com/evgenyvinnik/checkout-api/internal/audit"
	"github.com/evgenyvinnik/checkout-api/internal/breaker"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/retry"
)

type PaymentOutcome struct {
	Status        domain.PaymentStatus `json:"status"`
	Queued        bool                 `json:"queued,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// PaymentOrchestrator charges the gateway through the payment circuit
// breaker. While the circuit is open the charge is parked on the payment
// queue instead of failing the order; a declined or errored charge leaves
// the order confirmed with payment_status=failed for reconciliation.
type PaymentOrchestrator struct {
	gateway  PaymentGateway
	queue    PaymentQueue
	orders   OrderRepo
	br       *breaker.Breaker
	auditor  *audit.Logger
	cache    StatusCache
	payRetry retry.Options
	log      *slog.Logger
}

func NewPaymentOrchestrator(gateway PaymentGateway, queue PaymentQueue, orders OrderRepo,
	br *breaker.Breaker, auditor *audit.Logger, cache StatusCache, payRetry retry.Options, log *slog.Logger) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		gateway:  gateway,
		queue:    queue,
		orders:   orders,
		br:       br,
		auditor:  auditor,
		cache:    cache,
		payRetry: payRetry,
		log:      log,
	}
}

type chargeAttempt struct {
	result ChargeResult
	queued bool
}

// Process charges the order. The returned outcome is always meaningful;
// the error is non-nil only for storage failures updating the order row.
func (p *PaymentOrchestrator) Process(ctx context.Context, o *domain.Order, method string) (PaymentOutcome, error) {
	ch := Charge{
		OrderID:     o.ID,
		UserID:      o.UserID,
		AmountCents: o.TotalCents,
		Currency:    o.Currency,
		Method:      method,
	}

	attempt, err := breaker.Do(ctx, p.br,
		func(ctx context.Context) (chargeAttempt, error) {
			res, err := p.gateway.Charge(ctx, ch)
			return chargeAttempt{result: res}, err
		},
		func(ctx context.Context, cause error) (chargeAttempt, error) {
			return p.queueCharge(ctx, ch, cause)
		})

	switch {
	case err != nil:
		return p.settleFailure(ctx, o, apperr.Kind(err))
	case attempt.queued:
		return p.settleQueued(ctx, o)
	case !attempt.result.Approved:
		return p.settleFailure(ctx, o, attempt.result.Reason)
	default:
		return p.settleSuccess(ctx, o, attempt.result)
	}
}

// ProcessQueued re-attempts a parked charge, called by the payment queue
// consumer. Already-settled orders are a no-op so redeliveries are safe.
func (p *PaymentOrchestrator) ProcessQueued(ctx context.Context, msg QueuedPaymentMsg) error {
	o, err := p.orders.GetByID(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("load queued order %s: %w", msg.OrderID, err)
	}
	if o.PaymentStatus == domain.PaymentCompleted || o.PaymentStatus == domain.PaymentRefunded {
		return nil
	}

	_, err = retry.Do(ctx, p.payRetry, func(ctx context.Context) (PaymentOutcome, error) {
		out, perr := p.Process(ctx, o, msg.Method)
		if perr != nil {
			return out, perr
		}
		if out.Queued {
			// Circuit still open: keep the message on the queue.
			return out, errors.New("payment circuit still open")
		}
		return out, nil
	})
	return err
}

func (p *PaymentOrchestrator) queueCharge(ctx context.Context, ch Charge, cause error) (chargeAttempt, error) {
	msg := QueuedPaymentMsg{
		OrderID:     ch.OrderID,
		UserID:      ch.UserID,
		AmountCents: ch.AmountCents,
		Currency:    ch.Currency,
		Method:      ch.Method,
		Reason:      cause.Error(),
	}
	if err := p.queue.PublishQueued(ctx, msg); err != nil {
		// Fallback errors are logged, never re-thrown into the breaker.
		p.log.Error("queue payment fallback failed", "order_id", ch.OrderID, "error", err)
		return chargeAttempt{}, &apperr.DependencyTimeoutError{Dependency: "payment", Err: cause}
	}
	p.auditor.PaymentQueued(ctx, ch.OrderID, cause.Error())
	return chargeAttempt{queued: true}, nil
}

func (p *PaymentOrchestrator) settleSuccess(ctx context.Context, o *domain.Order, res ChargeResult) (PaymentOutcome, error) {
	if err := p.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentCompleted); err != nil {
		return PaymentOutcome{}, fmt.Errorf("mark payment completed: %w", err)
	}
	p.confirm(ctx, o)
	o.PaymentStatus = domain.PaymentCompleted
	p.auditor.PaymentCompleted(ctx, o.ID, o.TotalCents)
	return PaymentOutcome{Status: domain.PaymentCompleted, TransactionID: res.TransactionID}, nil
}

func (p *PaymentOrchestrator) settleFailure(ctx context.Context, o *domain.Order, reason string) (PaymentOutcome, error) {
	if err := p.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentFailed); err != nil {
		return PaymentOutcome{}, fmt.Errorf("mark payment failed: %w", err)
	}
	// The order stays committed and confirmed awaiting reconciliation;
	// no compensating rollback of the created order.
	p.confirm(ctx, o)
	o.PaymentStatus = domain.PaymentFailed
	p.auditor.PaymentFailed(ctx, o.ID, reason)
	return PaymentOutcome{Status: domain.PaymentFailed, Reason: reason}, nil
}

func (p *PaymentOrchestrator) settleQueued(ctx context.Context, o *domain.Order) (PaymentOutcome, error) {
	p.confirm(ctx, o)
	return PaymentOutcome{Status: domain.PaymentPending, Queued: true, Reason: "payment queued"}, nil
}

// confirm moves pending orders to confirmed and refreshes the status
// cache, best-effort.
func (p *PaymentOrchestrator) confirm(ctx context.Context, o *domain.Order) {
	moved, err := p.orders.UpdateStatusIf(ctx, o.ID, domain.OrderPending, domain.OrderConfirmed)
	if err != nil {
		p.log.Warn("confirm order after payment", "order_id", o.ID, "error", err)
		return
	}
	if moved {
		o.Status = domain.OrderConfirmed
	}
	if p.cache != nil {
		if err := p.cache.SetStatus(ctx, o.ID, string(o.Status)); err != nil {
			p.log.Debug("status cache refresh failed", "order_id", o.ID, "error", err)
		}
	}
}
