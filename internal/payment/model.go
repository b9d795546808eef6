package payment

import (
	"context"
	"strings"

	"marketplace-be/internal/order"

	"github.com/google/uuid"
)

const (
	StatusSucceeded = "SUCCEEDED"
	StatusPaid      = "PAID"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// Confirmation is one entry of the payment-confirmed feed, whether it
// arrives over the webhook or the message broker.
type Confirmation struct {
	OrderID   uuid.UUID `json:"order_id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
}

// Settled reports whether the confirmation means money was captured.
func (c Confirmation) Settled() bool {
	switch strings.ToUpper(c.Status) {
	case StatusSucceeded, StatusPaid:
		return true
	}
	return false
}

// Failed reports whether the provider gave up on collecting the payment.
func (c Confirmation) Failed() bool {
	switch strings.ToUpper(c.Status) {
	case StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Confirmer applies payment outcomes to an order.
type Confirmer interface {
	MarkAsPaid(ctx context.Context, orderID uuid.UUID, reference string) (*order.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reference string) (*order.Order, error)
}
