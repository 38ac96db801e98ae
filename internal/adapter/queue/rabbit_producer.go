package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// Topology names the exchange/queue wiring for queued payments.
type Topology struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

func DefaultTopology() Topology {
	return Topology{
		Exchange:   "payment.events",
		RoutingKey: "payment.queued",
		Queue:      "payment.queued.q",
	}
}

// RabbitProducer implements usecase.PaymentQueue.
type RabbitProducer struct {
	ch  *amqp.Channel
	top Topology
}

var _ usecase.PaymentQueue = (*RabbitProducer)(nil)

// NewRabbitProducer sets up the exchange, queue, and binding once at startup.
func NewRabbitProducer(ch *amqp.Channel, top Topology) (*RabbitProducer, error) {
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		top.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(
		top.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange
	if err := ch.QueueBind(
		q.Name,
		top.RoutingKey,
		top.Exchange,
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	// 4. enable publisher confirms (optional but recommended)
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch, top: top}, nil
}

// PublishQueued parks a charge for replay once the payment circuit closes.
func (p *RabbitProducer) PublishQueued(ctx context.Context, msg usecase.QueuedPaymentMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		Body:         body,
	}

	if err := p.ch.PublishWithContext(
		ctx,
		p.top.Exchange,
		p.top.RoutingKey,
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}
