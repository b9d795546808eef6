package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/order"
	"marketplace-be/internal/transport"
	"marketplace-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderHandler struct {
	orders order.Service
}

func NewOrderHandler(orders order.Service) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(w, r, err)
		return
	}

	in, err := createInput(r, req)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	orders, err := h.orders.CreateOrders(r.Context(), in)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	transport.WriteJSON(w, http.StatusCreated, createOrdersResponse{Orders: toOrderResponses(orders)})
}

func createInput(r *http.Request, req createOrderRequest) (order.CreateOrderInput, error) {
	callerID, _ := utils.GetUserIDFromContext(r.Context())
	customerID := callerID

	if req.CustomerID != nil && *req.CustomerID != callerID {
		if !utils.IsAdmin(r.Context()) {
			return order.CreateOrderInput{}, fmt.Errorf("%w: orders can only be placed for yourself", apperr.ErrForbidden)
		}
		customerID = *req.CustomerID
	}

	discount := decimal.Zero
	if req.Discount != nil {
		discount = *req.Discount
	}

	return order.CreateOrderInput{
		CustomerID:      customerID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   order.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Notes:           req.Notes,
		Discount:        discount,
	}, nil
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseListQuery(r)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	h.list(w, r, filter, page)
}

func (h *OrderHandler) ListByStore(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeId")
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	filter, page, err := parseListQuery(r)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	filter.StoreID = &storeID
	h.list(w, r, filter, page)
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request, filter order.OrderFilter, page order.Page) {
	list, err := h.orders.ListOrders(r.Context(), filter, page)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, toListResponse(list))
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	o, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}

	var req updateOrderRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(w, r, err)
		return
	}

	o, err := h.orders.UpdateOrder(r.Context(), id, req.toInput())
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(name, "must be a UUID")
	}
	return id, nil
}

// parseListQuery reads status, date_from, date_to, search, customer_id,
// store_id, limit and page. Dates accept RFC 3339 or YYYY-MM-DD; a bare
// date_to covers the whole day.
func parseListQuery(r *http.Request) (order.OrderFilter, order.Page, error) {
	q := r.URL.Query()
	var (
		f    order.OrderFilter
		page order.Page
	)

	if v := q.Get("status"); v != "" {
		s := order.Status(strings.ToLower(v))
		f.Status = &s
	}

	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{{"customer_id", &f.CustomerID}, {"store_id", &f.StoreID}} {
		if v := q.Get(p.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, page, apperr.Validation(p.name, "must be a UUID")
			}
			*p.dst = &id
		}
	}

	if v := q.Get("date_from"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, page, apperr.Validation("date_from", err.Error())
		}
		f.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, page, apperr.Validation("date_to", err.Error())
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.DateTo = &t
	}

	f.Search = strings.TrimSpace(q.Get("search"))

	var err error
	if page.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, page, err
	}
	if page.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return f, page, err
	}
	return f, page, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("must be RFC 3339 or YYYY-MM-DD")
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, "must be a non-negative integer")
	}
	return n, nil
}
