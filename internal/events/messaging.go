package events

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange               = "marketplace.events"
	DeadLetterExchange           = "marketplace.events.dlx"
	OrderCreatedRoutingKey       = "order.created.v1"
	OrderCancelledRoutingKey     = "order.cancelled.v1"
	OrderStatusChangedRoutingKey = "order.status_changed.v1"
	PaymentSucceededRoutingKey   = "payment.succeeded.v1"

	serviceName = "marketplace-be"
)

func queueName(routingKey string) string {
	return serviceName + "." + routingKey
}

func deadLetterQueueName(queue string) string {
	return queue + ".dlq"
}

type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

type topologyDeclarer interface {
	exchangeDeclarer
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

func declareEventsExchange(ch exchangeDeclarer) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// declareConsumerQueue declares the durable queue for routingKey and its
// dead-letter queue. Deliveries nacked without requeue are routed by the
// broker to the dead-letter queue under their original routing key.
func declareConsumerQueue(ch topologyDeclarer, routingKey string) (string, error) {
	if err := declareEventsExchange(ch); err != nil {
		return "", fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	queue := queueName(routingKey)
	dlq := deadLetterQueueName(queue)

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dlq, routingKey, DeadLetterExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind dead-letter queue: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": DeadLetterExchange}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		return "", fmt.Errorf("queue bind: %w", err)
	}
	return queue, nil
}

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}
