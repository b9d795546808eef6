package events

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/payment"
	"marketplace-be/internal/utils"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const prefetch = 10

type HandlerFunc func(ctx context.Context, body []byte) error

// PaymentSucceededHandler applies payment.succeeded events to their orders.
func PaymentSucceededHandler(orders payment.Confirmer) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var env Envelope[PaymentSucceeded]
		if err := json.Unmarshal(body, &env); err != nil {
			return apperr.Validation("body", fmt.Sprintf("unmarshal %s: %v", PaymentSucceededEvent, err))
		}
		if err := env.Validate(PaymentSucceededEvent, 1); err != nil {
			return apperr.Validation("envelope", err.Error())
		}

		orderID, err := uuid.Parse(env.Payload.OrderID)
		if err != nil {
			return apperr.Validation("orderId", "must be a UUID")
		}

		if env.RequestID != "" {
			ctx = logger.WithRequestID(ctx, env.RequestID)
		}
		ctx = utils.WithInternalRequest(ctx)

		if _, err := orders.MarkAsPaid(ctx, orderID, env.Payload.Reference); err != nil {
			return fmt.Errorf("mark as paid: %w", err)
		}
		return nil
	}
}

// StartPaymentConsumer feeds payment.succeeded.v1 into MarkAsPaid.
func StartPaymentConsumer(ctx context.Context, conn *amqp.Connection, orders payment.Confirmer) error {
	return StartConsumer(ctx, conn, PaymentSucceededRoutingKey, PaymentSucceededHandler(orders))
}

// StartConsumer binds a durable queue for routingKey to the events exchange
// and dispatches deliveries to handle until ctx is cancelled. Deliveries that
// are given up on go to the queue's dead-letter queue.
func StartConsumer(ctx context.Context, conn *amqp.Connection, routingKey string, handle HandlerFunc) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	queue, err := declareConsumerQueue(ch, routingKey)
	if err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(queue, serviceName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		defer ch.Close()
		consume(ctx, queue, msgs, handle)
	}()
	return nil
}

func consume(ctx context.Context, queue string, msgs <-chan amqp.Delivery, handle HandlerFunc) {
	log := logger.L().With(zap.String("layer", "consumer"), zap.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			dispatch(ctx, log, msg, handle)
		}
	}
}

func dispatch(ctx context.Context, log *zap.Logger, msg amqp.Delivery, handle HandlerFunc) {
	err := handle(ctx, msg.Body)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	log = log.With(zap.String("message_id", msg.MessageId), zap.Error(err))

	if permanent(err) {
		log.Warn("dead-lettering message")
		_ = msg.Nack(false, false)
		return
	}

	requeue := !msg.Redelivered
	log.Error("handle message failed", zap.Bool("requeue", requeue), zap.Bool("dead_letter", !requeue))
	_ = msg.Nack(false, requeue)
}

// permanent reports errors that a redelivery cannot fix.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindInvalidState, apperr.KindForbidden:
		return true
	}
	return false
}
