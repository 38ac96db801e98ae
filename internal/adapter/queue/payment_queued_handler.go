package queue

import (
	"context"

	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// QueuedPaymentHandler replays parked charges once the payment circuit
// has capacity again.
type QueuedPaymentHandler struct {
	orchestrator *usecase.PaymentOrchestrator
}

func NewQueuedPaymentHandler(o *usecase.PaymentOrchestrator) *QueuedPaymentHandler {
	return &QueuedPaymentHandler{orchestrator: o}
}

// HandleQueued is intended to be used with queue.JSONHandler[usecase.QueuedPaymentMsg].
// A still-open circuit returns an error so the message stays on the queue.
func (h *QueuedPaymentHandler) HandleQueued(ctx context.Context, msg usecase.QueuedPaymentMsg) error {
	return h.orchestrator.ProcessQueued(ctx, msg)
}
