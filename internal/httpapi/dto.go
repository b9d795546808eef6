package httpapi

import (
	"time"

	"marketplace-be/internal/address"
	"marketplace-be/internal/cart"
	"marketplace-be/internal/order"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	CustomerID      *uuid.UUID        `json:"customer_id,omitempty"`
	Items           []cart.Line       `json:"items"`
	ShippingAddress address.Snapshot  `json:"shipping_address"`
	BillingAddress  *address.Snapshot `json:"billing_address,omitempty"`
	PaymentMethod   string            `json:"payment_method"`
	Notes           string            `json:"notes,omitempty"`
	Discount        *decimal.Decimal  `json:"discount,omitempty"`
}

type updateOrderRequest struct {
	Status         *string `json:"status,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

func (r updateOrderRequest) toInput() order.UpdateOrderInput {
	in := order.UpdateOrderInput{
		TrackingNumber: r.TrackingNumber,
		Notes:          r.Notes,
	}
	if r.Status != nil {
		s := order.Status(*r.Status)
		in.Status = &s
	}
	return in
}

type orderItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   string    `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	LineTotal   string    `json:"line_total"`
}

type orderResponse struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      string              `json:"order_number"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	StoreID          uuid.UUID           `json:"store_id"`
	Status           string              `json:"status"`
	PaymentMethod    string              `json:"payment_method"`
	PaymentStatus    string              `json:"payment_status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	Subtotal         string              `json:"subtotal"`
	Tax              string              `json:"tax"`
	ShippingCost     string              `json:"shipping_cost"`
	Discount         string              `json:"discount"`
	Total            string              `json:"total"`
	ShippingAddress  address.Snapshot    `json:"shipping_address"`
	BillingAddress   *address.Snapshot   `json:"billing_address,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	TrackingNumber   string              `json:"tracking_number,omitempty"`
	Items            []orderItemResponse `json:"items"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type createOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}

type orderListResponse struct {
	Orders       []orderResponse `json:"orders"`
	Total        int             `json:"total"`
	Limit        int             `json:"limit"`
	Page         int             `json:"page"`
	StatusCounts map[string]int  `json:"status_counts"`
	StatusTotal  int             `json:"status_total"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		CustomerID:       o.CustomerID,
		StoreID:          o.StoreID,
		Status:           string(o.Status),
		PaymentMethod:    string(o.PaymentMethod),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentReference: o.PaymentReference,
		Subtotal:         money(o.Subtotal),
		Tax:              money(o.Tax),
		ShippingCost:     money(o.ShippingCost),
		Discount:         money(o.Discount),
		Total:            money(o.Total),
		ShippingAddress:  o.ShippingAddress,
		BillingAddress:   o.BillingAddress,
		Notes:            o.Notes,
		TrackingNumber:   o.TrackingNumber,
		Items:            make([]orderItemResponse, 0, len(o.Items)),
		PaidAt:           o.PaidAt,
		CancelledAt:      o.CancelledAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   money(it.UnitPrice),
			Quantity:    it.Quantity,
			LineTotal:   money(it.LineTotal),
		})
	}
	return resp
}

func toOrderResponses(orders []*order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toListResponse(l *order.OrderList) orderListResponse {
	counts := make(map[string]int, len(l.StatusCounts))
	for s, n := range l.StatusCounts {
		counts[string(s)] = n
	}
	return orderListResponse{
		Orders:       toOrderResponses(l.Orders),
		Total:        l.Total,
		Limit:        l.Limit,
		Page:         l.Page,
		StatusCounts: counts,
		StatusTotal:  l.StatusTotal,
	}
}
