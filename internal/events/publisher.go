package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-be/internal/logger"
	"marketplace-be/internal/order"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 3 * time.Second

type channel interface {
	exchangeDeclarer
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher emits order lifecycle events to the topic exchange.
type Publisher struct {
	ch  channel
	now func() time.Time
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return newPublisher(ch)
}

func newPublisher(ch channel) (*Publisher, error) {
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{ch: ch, now: time.Now}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) OrdersCreated(ctx context.Context, orders []*order.Order) error {
	for _, o := range orders {
		if err := publish(ctx, p, OrderCreatedEvent, OrderCreatedRoutingKey, o.ID, orderCreatedPayload(o)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) OrderCancelled(ctx context.Context, o *order.Order) error {
	ev := OrderCancelled{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		StoreID:       o.StoreID.String(),
		PaymentStatus: string(o.PaymentStatus),
	}
	if o.CancelledAt != nil {
		ev.CancelledAt = *o.CancelledAt
	}
	return publish(ctx, p, OrderCancelledEvent, OrderCancelledRoutingKey, o.ID, ev)
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	ev := OrderStatusChanged{
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID.String(),
		From:        string(from),
		To:          string(o.Status),
	}
	return publish(ctx, p, OrderStatusChangedEvent, OrderStatusChangedRoutingKey, o.ID, ev)
}

func publish[T any](ctx context.Context, p *Publisher, name, routingKey string, key uuid.UUID, payload T) error {
	env := Envelope[T]{
		EventName:    name,
		EventVersion: 1,
		EventID:      uuid.NewString(),
		Producer:     serviceName,
		PartitionKey: key.String(),
		RequestID:    logger.RequestIDFrom(ctx),
		OccurredAt:   p.now().UTC(),
		Payload:      payload,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx, EventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID,
		Timestamp:    env.OccurredAt,
		Type:         name,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) OrdersCreated(context.Context, []*order.Order) error { return nil }

func (NopPublisher) OrderCancelled(context.Context, *order.Order) error { return nil }

func (NopPublisher) OrderStatusChanged(context.Context, *order.Order, order.Status) error {
	return nil
}
