package events

import (
	"time"

	"marketplace-be/internal/order"
)

const (
	OrderCreatedEvent       = "OrderCreated"
	OrderCancelledEvent     = "OrderCancelled"
	OrderStatusChangedEvent = "OrderStatusChanged"
	PaymentSucceededEvent   = "PaymentSucceeded"
)

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type OrderCreated struct {
	OrderID       string      `json:"orderId"`
	OrderNumber   string      `json:"orderNumber"`
	CustomerID    string      `json:"customerId"`
	StoreID       string      `json:"storeId"`
	Status        string      `json:"status"`
	PaymentMethod string      `json:"paymentMethod"`
	Total         string      `json:"total"`
	Items         []OrderItem `json:"items"`
}

type OrderCancelled struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	StoreID       string    `json:"storeId"`
	PaymentStatus string    `json:"paymentStatus"`
	CancelledAt   time.Time `json:"cancelledAt"`
}

type OrderStatusChanged struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	StoreID     string `json:"storeId"`
	From        string `json:"from"`
	To          string `json:"to"`
}

type PaymentSucceeded struct {
	OrderID   string `json:"orderId"`
	Reference string `json:"reference"`
}

func orderCreatedPayload(o *order.Order) OrderCreated {
	ev := OrderCreated{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID.String(),
		StoreID:       o.StoreID.String(),
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		Total:         o.Total.StringFixed(2),
	}
	for _, it := range o.Items {
		ev.Items = append(ev.Items, OrderItem{
			ProductID: it.ProductID.String(),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return ev
}
