package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-be/internal/address"
	"marketplace-be/internal/apperr"
	"marketplace-be/internal/cart"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/pricing"
	"marketplace-be/internal/product"
	"marketplace-be/internal/store"
	"marketplace-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxNotesLength    = 1000
	maxTrackingLength = 100
	maxReferenceLen   = 255
)

// EventPublisher receives lifecycle events after the owning transaction has
// committed. Failures are logged and never undo the operation.
type EventPublisher interface {
	OrdersCreated(ctx context.Context, orders []*Order) error
	OrderCancelled(ctx context.Context, o *Order) error
	OrderStatusChanged(ctx context.Context, o *Order, from Status) error
}

type Service interface {
	CreateOrders(ctx context.Context, in CreateOrderInput) ([]*Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, in UpdateOrderInput) (*Order, error)
	MarkAsPaid(ctx context.Context, orderID uuid.UUID, reference string) (*Order, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reference string) (*Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, page Page) (*OrderList, error)
}

type service struct {
	repo      Repository
	products  product.Repository
	stores    store.Repository
	calc      *pricing.Calculator
	addresses address.Validator
	events    EventPublisher
	metrics   *metrics.OrderMetrics
	now       func() time.Time
}

type Option func(*service)

func WithEventPublisher(p EventPublisher) Option {
	return func(s *service) { s.events = p }
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *service) { s.metrics = m }
}

func WithAddressValidator(v address.Validator) Option {
	return func(s *service) { s.addresses = v }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(
	repo Repository,
	products product.Repository,
	stores store.Repository,
	calc *pricing.Calculator,
	opts ...Option,
) Service {
	s := &service{
		repo:      repo,
		products:  products,
		stores:    stores,
		calc:      calc,
		addresses: address.NewValidator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrders(ctx context.Context, in CreateOrderInput) ([]*Order, error) {
	timer := metrics.StartTimer()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrders"),
		zap.String("customer_id", in.CustomerID.String()),
		zap.Int("line_count", len(in.Items)),
	)

	log.Debug("start create orders")

	orders, err := s.planOrders(ctx, in)
	if err != nil {
		log.Warn("create orders rejected", zap.Error(err))
		s.recordFailure(err)
		return nil, err
	}

	if err := s.repo.CreateOrdersTx(ctx, orders); err != nil {
		if apperr.KindOf(err) == apperr.KindPersistence {
			log.Error("failed to persist orders", zap.Error(err))
		} else {
			log.Warn("create orders rejected", zap.Error(err))
		}
		s.recordFailure(err)
		return nil, err
	}

	s.metrics.Created(len(orders), timer.Duration())

	numbers := make([]string, len(orders))
	for i, o := range orders {
		numbers[i] = o.OrderNumber
	}
	log.Info("orders created", zap.Strings("order_numbers", numbers))

	if s.events != nil {
		if err := s.events.OrdersCreated(ctx, orders); err != nil {
			log.Warn("failed to publish orders created event", zap.Error(err))
		}
	}

	return orders, nil
}

func (s *service) recordFailure(err error) {
	if apperr.KindOf(err) == apperr.KindInsufficientStock {
		s.metrics.StockRejected()
		return
	}
	s.metrics.CreateFailed()
}

// planOrders validates the submission and builds one fully priced order per
// store group. Nothing is written here.
func (s *service) planOrders(ctx context.Context, in CreateOrderInput) ([]*Order, error) {
	if in.CustomerID == uuid.Nil {
		return nil, apperr.Validation("customer_id", "is required")
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation("payment_method", fmt.Sprintf("unsupported payment method %q", in.PaymentMethod))
	}
	if len(in.Notes) > maxNotesLength {
		return nil, apperr.Validation("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}

	shipping, err := s.addresses.Validate("shipping_address", in.ShippingAddress)
	if err != nil {
		return nil, err
	}

	var billing *address.Snapshot
	if in.BillingAddress != nil && !in.BillingAddress.IsZero() {
		b, err := s.addresses.Validate("billing_address", *in.BillingAddress)
		if err != nil {
			return nil, err
		}
		billing = &b
	}

	groups, err := cart.SplitByStore(in.Items)
	if err != nil {
		return nil, err
	}

	productIDs := make([]uuid.UUID, 0, len(in.Items))
	storeIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		storeIDs = append(storeIDs, g.StoreID)
		productIDs = append(productIDs, g.ProductIDs()...)
	}

	products, err := s.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, apperr.Persistence("load products", err)
	}
	stores, err := s.stores.GetByIDs(ctx, storeIDs)
	if err != nil {
		return nil, apperr.Persistence("load stores", err)
	}

	for _, id := range storeIDs {
		st, ok := stores[id]
		if !ok {
			return nil, apperr.NotFound("store", id)
		}
		if !st.IsActive {
			return nil, apperr.Validation("store_id", fmt.Sprintf("store %s is not accepting orders", id))
		}
	}

	now := s.now().UTC()
	remaining := pricing.Round(decimal.Max(in.Discount, decimal.Zero))
	orders := make([]*Order, 0, len(groups))

	for _, g := range groups {
		o := &Order{
			ID:              uuid.New(),
			CustomerID:      in.CustomerID,
			StoreID:         g.StoreID,
			Status:          in.PaymentMethod.InitialStatus(),
			PaymentMethod:   in.PaymentMethod,
			PaymentStatus:   PaymentPending,
			ShippingAddress: shipping,
			BillingAddress:  billing,
			Notes:           strings.TrimSpace(in.Notes),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		lines := make([]pricing.Line, 0, len(g.Lines))
		for _, line := range g.Lines {
			p, ok := products[line.ProductID]
			if !ok {
				return nil, apperr.NotFound("product", line.ProductID)
			}
			if p.StoreID != g.StoreID {
				return nil, apperr.Validation("store_id",
					fmt.Sprintf("product %s does not belong to store %s", p.ID, g.StoreID))
			}
			if !p.IsActive() {
				return nil, apperr.Validation("product_id", fmt.Sprintf("product %s is not available", p.ID))
			}
			if p.Quantity < line.Quantity {
				return nil, &apperr.InsufficientStockError{
					ProductID: p.ID,
					Requested: line.Quantity,
					Available: p.Quantity,
				}
			}

			pl := pricing.Line{UnitPrice: p.Price, Quantity: line.Quantity}
			lines = append(lines, pl)

			o.Items = append(o.Items, OrderItem{
				ID:          uuid.New(),
				OrderID:     o.ID,
				ProductID:   p.ID,
				StoreID:     g.StoreID,
				ProductName: p.Name,
				UnitPrice:   pricing.Round(p.Price),
				Quantity:    line.Quantity,
				LineTotal:   pl.Total(),
				CreatedAt:   now,
			})
		}

		b := s.calc.Calculate(lines, remaining)
		remaining = remaining.Sub(b.Discount)

		o.Subtotal = b.Subtotal
		o.Tax = b.Tax
		o.ShippingCost = b.Shipping
		o.Discount = b.Discount
		o.Total = b.Total

		orders = append(orders, o)
	}

	return orders, nil
}

func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CancelOrder"),
		zap.String("order_id", orderID.String()),
	)

	if err := requireIdentity(ctx); err != nil {
		return nil, err
	}

	var from Status
	o, err := s.repo.CancelOrderTx(ctx, orderID, func(o *Order) error {
		if err := authorize(ctx, o); err != nil {
			return err
		}
		if !CanCancel(o.Status) {
			return &apperr.InvalidStateError{OrderID: o.ID, From: string(o.Status), Action: "cancel"}
		}
		from = o.Status
		return nil
	})
	if err != nil {
		log.Warn("cancel order failed", zap.Error(err))
		return nil, err
	}

	s.metrics.Cancelled()
	log.Info("order cancelled",
		zap.String("from", string(from)),
		zap.String("payment_status", string(o.PaymentStatus)),
	)

	if s.events != nil {
		if err := s.events.OrderCancelled(ctx, o); err != nil {
			log.Warn("failed to publish order cancelled event", zap.Error(err))
		}
	}

	return o, nil
}

func (s *service) UpdateOrder(ctx context.Context, orderID uuid.UUID, in UpdateOrderInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "UpdateOrder"),
		zap.String("order_id", orderID.String()),
	)

	if !utils.IsAdmin(ctx) && !utils.IsInternalRequest(ctx) {
		return nil, fmt.Errorf("%w: admin role required", apperr.ErrForbidden)
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	var from Status
	o, err := s.repo.UpdateOrderTx(ctx, orderID, func(o *Order) (bool, error) {
		from = o.Status
		changed := false

		if in.Status != nil {
			to := *in.Status
			if !CanAdvance(o.Status, to) {
				return false, &apperr.InvalidStateError{
					OrderID: o.ID,
					From:    string(o.Status),
					Action:  "move to " + string(to),
				}
			}
			o.Status = to
			changed = true

			if to == StatusDelivered && o.PaymentMethod == PaymentCashOnDelivery && o.PaymentStatus == PaymentPending {
				paidAt := s.now().UTC()
				o.PaymentStatus = PaymentPaid
				o.PaidAt = &paidAt
			}
		}
		if in.TrackingNumber != nil {
			o.TrackingNumber = strings.TrimSpace(*in.TrackingNumber)
			changed = true
		}
		if in.Notes != nil {
			o.Notes = strings.TrimSpace(*in.Notes)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		log.Warn("update order failed", zap.Error(err))
		return nil, err
	}

	log.Info("order updated",
		zap.String("from", string(from)),
		zap.String("status", string(o.Status)),
	)

	if o.Status != from {
		s.statusChanged(ctx, log, o, from)
	}

	return o, nil
}

func validateUpdate(in UpdateOrderInput) error {
	if in.Empty() {
		return apperr.Validation("", "no fields to update")
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return apperr.Validation("status", fmt.Sprintf("unknown status %q", *in.Status))
		}
		if *in.Status == StatusCancelled {
			return apperr.Validation("status", "use the cancel operation to cancel an order")
		}
	}
	if in.TrackingNumber != nil && len(*in.TrackingNumber) > maxTrackingLength {
		return apperr.Validation("tracking_number", fmt.Sprintf("must be at most %d characters", maxTrackingLength))
	}
	if in.Notes != nil && len(*in.Notes) > maxNotesLength {
		return apperr.Validation("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	return nil
}

// MarkAsPaid applies a payment confirmation. Replays of an already applied
// confirmation return the order unchanged.
func (s *service) MarkAsPaid(ctx context.Context, orderID uuid.UUID, reference string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkAsPaid"),
		zap.String("order_id", orderID.String()),
		zap.String("reference", reference),
	)

	if !utils.IsAdmin(ctx) && !utils.IsInternalRequest(ctx) {
		return nil, fmt.Errorf("%w: payment confirmations are system only", apperr.ErrForbidden)
	}

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Validation("reference", "is required")
	}
	if len(reference) > maxReferenceLen {
		return nil, apperr.Validation("reference", fmt.Sprintf("must be at most %d characters", maxReferenceLen))
	}

	var from Status
	applied := false
	o, err := s.repo.UpdateOrderTx(ctx, orderID, func(o *Order) (bool, error) {
		from = o.Status
		if o.PaymentStatus == PaymentPaid {
			return false, nil
		}
		if o.Status == StatusCancelled || o.Status == StatusFailed || o.PaymentStatus == PaymentRefunded {
			return false, &apperr.InvalidStateError{OrderID: o.ID, From: string(o.Status), Action: "mark paid"}
		}

		paidAt := s.now().UTC()
		o.PaymentStatus = PaymentPaid
		o.PaymentReference = reference
		o.PaidAt = &paidAt
		if o.Status == StatusPending {
			o.Status = StatusConfirmed
		}
		applied = true
		return true, nil
	})
	if err != nil {
		log.Warn("mark as paid failed", zap.Error(err))
		return nil, err
	}

	if !applied {
		log.Info("payment already applied")
		return o, nil
	}

	s.metrics.PaymentApplied()
	log.Info("payment applied", zap.String("status", string(o.Status)))

	if o.Status != from {
		s.statusChanged(ctx, log, o, from)
	}

	return o, nil
}

// MarkPaymentFailed records a failed or expired payment. An order that is
// still open moves to failed; its reserved stock is left as is.
func (s *service) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reference string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkPaymentFailed"),
		zap.String("order_id", orderID.String()),
		zap.String("reference", reference),
	)

	if !utils.IsAdmin(ctx) && !utils.IsInternalRequest(ctx) {
		return nil, fmt.Errorf("%w: payment confirmations are system only", apperr.ErrForbidden)
	}

	reference = strings.TrimSpace(reference)
	if len(reference) > maxReferenceLen {
		return nil, apperr.Validation("reference", fmt.Sprintf("must be at most %d characters", maxReferenceLen))
	}

	var from Status
	applied := false
	o, err := s.repo.UpdateOrderTx(ctx, orderID, func(o *Order) (bool, error) {
		from = o.Status
		if o.PaymentStatus == PaymentFailed {
			return false, nil
		}
		if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
			return false, &apperr.InvalidStateError{OrderID: o.ID, From: string(o.Status), Action: "fail payment"}
		}

		o.PaymentStatus = PaymentFailed
		if reference != "" {
			o.PaymentReference = reference
		}
		if !o.Status.Terminal() {
			o.Status = StatusFailed
		}
		applied = true
		return true, nil
	})
	if err != nil {
		log.Warn("mark payment failed rejected", zap.Error(err))
		return nil, err
	}

	if !applied {
		log.Info("payment failure already recorded")
		return o, nil
	}

	s.metrics.PaymentFailed()
	log.Info("payment failure recorded", zap.String("status", string(o.Status)))

	if o.Status != from {
		s.statusChanged(ctx, log, o, from)
	}

	return o, nil
}

func (s *service) statusChanged(ctx context.Context, log *zap.Logger, o *Order, from Status) {
	s.metrics.StatusChanged()
	if s.events == nil {
		return
	}
	if err := s.events.OrderStatusChanged(ctx, o, from); err != nil {
		log.Warn("failed to publish status changed event", zap.Error(err))
	}
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	if err := requireIdentity(ctx); err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrderDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := authorize(ctx, o); err != nil {
		logger.FromCtx(ctx).Warn("order access denied",
			zap.String("layer", "service"),
			zap.String("method", "GetOrder"),
			zap.String("order_id", orderID.String()),
		)
		return nil, err
	}

	return o, nil
}

func (s *service) ListOrders(ctx context.Context, filter OrderFilter, page Page) (*OrderList, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ListOrders"),
	)

	scoped, err := scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	if scoped.Status != nil && !scoped.Status.Valid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", *scoped.Status))
	}
	if scoped.DateFrom != nil && scoped.DateTo != nil && scoped.DateTo.Before(*scoped.DateFrom) {
		return nil, apperr.Validation("date_to", "must not be before date_from")
	}

	limit, pageNo, offset := utils.Paginate(page.Limit, page.Page)

	orders, err := s.repo.FetchOrders(ctx, scoped, limit, offset)
	if err != nil {
		log.Error("failed to fetch orders", zap.Error(err))
		return nil, err
	}

	total, err := s.repo.CountOrders(ctx, scoped)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.CountByStatus(ctx, scoped)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := s.repo.FetchOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}

	statusTotal := 0
	for _, n := range counts {
		statusTotal += n
	}

	log.Debug("list orders success", zap.Int("count", len(orders)), zap.Int("total", total))

	return &OrderList{
		Orders:       orders,
		Total:        total,
		Limit:        limit,
		Page:         pageNo,
		StatusCounts: counts,
		StatusTotal:  statusTotal,
	}, nil
}

// scopeFilter narrows filter to what the caller may see: customers their own
// orders, sellers their store's, admins everything.
func scopeFilter(ctx context.Context, f OrderFilter) (OrderFilter, error) {
	if utils.IsAdmin(ctx) || utils.IsInternalRequest(ctx) {
		return f, nil
	}

	switch utils.GetUserRoleFromContext(ctx) {
	case utils.RoleSeller:
		storeID, ok := utils.GetStoreIDFromContext(ctx)
		if !ok {
			return f, fmt.Errorf("%w: seller has no store", apperr.ErrForbidden)
		}
		if f.StoreID != nil && *f.StoreID != storeID {
			return f, fmt.Errorf("%w: store %s", apperr.ErrForbidden, *f.StoreID)
		}
		f.StoreID = &storeID
		return f, nil
	default:
		userID, ok := utils.GetUserIDFromContext(ctx)
		if !ok {
			return f, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, ErrNoIdentity)
		}
		if f.StoreID != nil {
			return f, fmt.Errorf("%w: store listings are for sellers", apperr.ErrForbidden)
		}
		f.CustomerID = &userID
		return f, nil
	}
}

func requireIdentity(ctx context.Context) error {
	if utils.IsInternalRequest(ctx) || utils.IsAdmin(ctx) {
		return nil
	}
	if _, ok := utils.GetUserIDFromContext(ctx); ok {
		return nil
	}
	return fmt.Errorf("%w: %v", apperr.ErrUnauthorized, ErrNoIdentity)
}

func authorize(ctx context.Context, o *Order) error {
	if utils.IsInternalRequest(ctx) || utils.IsAdmin(ctx) {
		return nil
	}

	if utils.GetUserRoleFromContext(ctx) == utils.RoleSeller {
		if storeID, ok := utils.GetStoreIDFromContext(ctx); ok && storeID == o.StoreID {
			return nil
		}
	} else if userID, ok := utils.GetUserIDFromContext(ctx); ok && userID == o.CustomerID {
		return nil
	}

	return fmt.Errorf("%w: order %s", apperr.ErrForbidden, o.ID)
}
