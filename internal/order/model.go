package order

import (
	"time"

	"marketplace-be/internal/address"
	"marketplace-be/internal/cart"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentCard           PaymentMethod = "card"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMobileWallet   PaymentMethod = "mobile_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentCard, PaymentBankTransfer, PaymentMobileWallet:
		return true
	}
	return false
}

// InitialStatus is confirmed for pay-on-delivery, pending otherwise.
func (m PaymentMethod) InitialStatus() Status {
	if m == PaymentCashOnDelivery {
		return StatusConfirmed
	}
	return StatusPending
}

// Order is one per store group of a cart submission.
type Order struct {
	ID               uuid.UUID
	OrderNumber      string
	CustomerID       uuid.UUID
	StoreID          uuid.UUID
	Status           Status
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentReference string

	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal

	ShippingAddress address.Snapshot
	BillingAddress  *address.Snapshot
	Notes           string
	TrackingNumber  string

	Items []OrderItem

	PaidAt      *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem freezes name and unit price at purchase time.
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	StoreID     uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
	CreatedAt   time.Time
}

type CreateOrderInput struct {
	CustomerID      uuid.UUID
	Items           []cart.Line
	ShippingAddress address.Snapshot
	BillingAddress  *address.Snapshot
	PaymentMethod   PaymentMethod
	Notes           string
	// Discount applies to the whole cart and is consumed store group by
	// store group in split order.
	Discount decimal.Decimal
}

// UpdateOrderInput carries admin edits; nil fields are left unchanged.
type UpdateOrderInput struct {
	Status         *Status
	TrackingNumber *string
	Notes          *string
}

func (in UpdateOrderInput) Empty() bool {
	return in.Status == nil && in.TrackingNumber == nil && in.Notes == nil
}

type OrderFilter struct {
	CustomerID *uuid.UUID
	StoreID    *uuid.UUID
	Status     *Status
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
}

type Page struct {
	Limit int
	Page  int
}

// OrderList is one page of orders plus counts over the whole filter.
// Total honours the status filter. StatusCounts ignores it so every tab of a
// dashboard can be labelled from a single call, and StatusTotal is their sum:
// the Total the same query would have without a status filter.
type OrderList struct {
	Orders       []*Order
	Total        int
	Limit        int
	Page         int
	StatusCounts map[Status]int
	StatusTotal  int
}
