package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-be/internal/address"
	"marketplace-be/internal/apperr"
	"marketplace-be/internal/cart"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/pricing"
	"marketplace-be/internal/utils"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ---- mocks ----

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrdersTx(ctx context.Context, orders []*Order) error {
	args := m.Called(ctx, orders)
	return args.Error(0)
}

func (m *MockRepository) CancelOrderTx(ctx context.Context, orderID uuid.UUID, check func(*Order) error) (*Order, error) {
	args := m.Called(ctx, orderID, check)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) UpdateOrderTx(ctx context.Context, orderID uuid.UUID, mutate Mutator) (*Order, error) {
	args := m.Called(ctx, orderID, mutate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) FetchOrders(ctx context.Context, filter OrderFilter, limit, offset int) ([]*Order, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Order), args.Error(1)
}

func (m *MockRepository) CountOrders(ctx context.Context, filter OrderFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CountByStatus(ctx context.Context, filter OrderFilter) (map[Status]int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[Status]int), args.Error(1)
}

func (m *MockRepository) FetchOrderItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID][]OrderItem), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) OrdersCreated(ctx context.Context, orders []*Order) error {
	return m.Called(ctx, orders).Error(0)
}

func (m *MockPublisher) OrderCancelled(ctx context.Context, o *Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockPublisher) OrderStatusChanged(ctx context.Context, o *Order, from Status) error {
	return m.Called(ctx, o, from).Error(0)
}

// ---- helpers ----

func testCalculator(t *testing.T) *pricing.Calculator {
	t.Helper()
	calc, err := pricing.NewCalculator(decimal.RequireFromString("0.18"), decimal.RequireFromString("50.00"))
	require.NoError(t, err)
	return calc
}

func customerCtx(id uuid.UUID) context.Context {
	return utils.SetUserContext(context.Background(), id, "customer@example.com", utils.RoleCustomer)
}

func adminCtx() context.Context {
	return utils.SetUserContext(context.Background(), uuid.New(), "admin@example.com", utils.RoleAdmin)
}

func sellerCtx(storeID uuid.UUID) context.Context {
	ctx := utils.SetUserContext(context.Background(), uuid.New(), "seller@example.com", utils.RoleSeller)
	return utils.SetStoreContext(ctx, storeID)
}

func systemCtx() context.Context {
	return utils.WithInternalRequest(context.Background())
}

var shipTo = address.Snapshot{Name: "Ana", AddressLine1: "1 Main St", City: "Jakarta", Country: "id"}

type fixture struct {
	repo    *memRepo
	catalog *catalog
	metrics *metrics.OrderMetrics
	svc     Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := newMemRepo()
	cat := newCatalog(repo)
	m := metrics.NewOrderMetrics()
	opts = append([]Option{WithMetrics(m)}, opts...)
	return &fixture{
		repo:    repo,
		catalog: cat,
		metrics: m,
		svc:     NewService(repo, cat, storeCatalog{cat}, testCalculator(t), opts...),
	}
}

func (f *fixture) place(t *testing.T, customer uuid.UUID, method PaymentMethod, lines ...cart.Line) []*Order {
	t.Helper()
	orders, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID:      customer,
		Items:           lines,
		ShippingAddress: shipTo,
		PaymentMethod:   method,
	})
	require.NoError(t, err)
	return orders
}

// ---- CreateOrders ----

func TestService_CreateOrders_TwoStoreScenario(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	cat := newCatalog(newMemRepo())
	s1 := cat.addStore(true)
	s2 := cat.addStore(true)
	p1 := cat.addProduct(s1, "100.00", 10)
	p2 := cat.addProduct(s2, "50.00", 10)

	svc := NewService(repo, cat, storeCatalog{cat}, testCalculator(t), WithEventPublisher(pub))
	customer := uuid.New()

	repo.On("CreateOrdersTx", mock.Anything, mock.MatchedBy(func(orders []*Order) bool {
		return len(orders) == 2
	})).Return(nil).Once()
	pub.On("OrdersCreated", mock.Anything, mock.Anything).Return(nil).Once()

	orders, err := svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID: customer,
		Items: []cart.Line{
			{ProductID: p1, StoreID: s1, Quantity: 2},
			{ProductID: p2, StoreID: s2, Quantity: 1},
		},
		ShippingAddress: shipTo,
		PaymentMethod:   PaymentCard,
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	o1, o2 := orders[0], orders[1]
	assert.Equal(t, s1, o1.StoreID)
	assert.Equal(t, "200.00", o1.Subtotal.StringFixed(2))
	assert.Equal(t, "36.00", o1.Tax.StringFixed(2))
	assert.Equal(t, "50.00", o1.ShippingCost.StringFixed(2))
	assert.Equal(t, "286.00", o1.Total.StringFixed(2))

	assert.Equal(t, s2, o2.StoreID)
	assert.Equal(t, "50.00", o2.Subtotal.StringFixed(2))
	assert.Equal(t, "9.00", o2.Tax.StringFixed(2))
	assert.Equal(t, "109.00", o2.Total.StringFixed(2))

	for _, o := range orders {
		assert.Equal(t, customer, o.CustomerID)
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, PaymentPending, o.PaymentStatus)
		assert.Equal(t, "ID", o.ShippingAddress.Country)
		assert.True(t, o.Total.Equal(o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount)))
		for _, it := range o.Items {
			assert.Equal(t, o.ID, it.OrderID)
			assert.Equal(t, o.StoreID, it.StoreID)
		}
	}
	assert.Equal(t, "100.00", o1.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 2, o1.Items[0].Quantity)
	assert.Equal(t, "200.00", o1.Items[0].LineTotal.StringFixed(2))

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_CreateOrders_CashOnDeliveryStartsConfirmed(t *testing.T) {
	f := newFixture(t)
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 5)

	orders := f.place(t, uuid.New(), PaymentCashOnDelivery, cart.Line{ProductID: p, StoreID: st, Quantity: 1})
	require.Len(t, orders, 1)
	assert.Equal(t, StatusConfirmed, orders[0].Status)
	assert.Equal(t, PaymentPending, orders[0].PaymentStatus)
	assert.NotEmpty(t, orders[0].OrderNumber)
}

func TestService_CreateOrders_DiscountConsumedInSplitOrder(t *testing.T) {
	f := newFixture(t)
	s1 := f.catalog.addStore(true)
	s2 := f.catalog.addStore(true)
	p1 := f.catalog.addProduct(s1, "100.00", 10)
	p2 := f.catalog.addProduct(s2, "50.00", 10)
	customer := uuid.New()

	orders, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID: customer,
		Items: []cart.Line{
			{ProductID: p1, StoreID: s1, Quantity: 2},
			{ProductID: p2, StoreID: s2, Quantity: 1},
		},
		ShippingAddress: shipTo,
		PaymentMethod:   PaymentCard,
		Discount:        decimal.RequireFromString("300.00"),
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "286.00", orders[0].Discount.StringFixed(2))
	assert.Equal(t, "0.00", orders[0].Total.StringFixed(2))
	assert.Equal(t, "14.00", orders[1].Discount.StringFixed(2))
	assert.Equal(t, "95.00", orders[1].Total.StringFixed(2))
}

func TestService_CreateOrders_BillingAddress(t *testing.T) {
	f := newFixture(t)
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 5)
	customer := uuid.New()
	line := cart.Line{ProductID: p, StoreID: st, Quantity: 1}

	t.Run("EmptyObjectIsOmitted", func(t *testing.T) {
		orders, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
			CustomerID:      customer,
			Items:           []cart.Line{line},
			ShippingAddress: shipTo,
			BillingAddress:  &address.Snapshot{},
			PaymentMethod:   PaymentCard,
		})
		require.NoError(t, err)
		assert.Nil(t, orders[0].BillingAddress)
	})

	t.Run("GivenAddressIsValidated", func(t *testing.T) {
		_, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
			CustomerID:      customer,
			Items:           []cart.Line{line},
			ShippingAddress: shipTo,
			BillingAddress:  &address.Snapshot{City: "Bandung"},
			PaymentMethod:   PaymentCard,
		})
		var ve *apperr.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "billing_address.address_line1", ve.Field)
	})

	t.Run("GivenAddressIsKept", func(t *testing.T) {
		orders, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
			CustomerID:      customer,
			Items:           []cart.Line{line},
			ShippingAddress: shipTo,
			BillingAddress:  &address.Snapshot{AddressLine1: " 9 Side Rd "},
			PaymentMethod:   PaymentCard,
		})
		require.NoError(t, err)
		require.NotNil(t, orders[0].BillingAddress)
		assert.Equal(t, "9 Side Rd", orders[0].BillingAddress.AddressLine1)
	})
}

func TestService_CreateOrders_Validation(t *testing.T) {
	f := newFixture(t)
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 5)
	customer := uuid.New()
	good := []cart.Line{{ProductID: p, StoreID: st, Quantity: 1}}

	tests := []struct {
		name  string
		in    CreateOrderInput
		field string
	}{
		{"empty cart", CreateOrderInput{CustomerID: customer, ShippingAddress: shipTo, PaymentMethod: PaymentCard}, "items"},
		{"missing store", CreateOrderInput{CustomerID: customer, ShippingAddress: shipTo, PaymentMethod: PaymentCard,
			Items: []cart.Line{{ProductID: p, Quantity: 1}}}, "items[0].store_id"},
		{"zero quantity", CreateOrderInput{CustomerID: customer, ShippingAddress: shipTo, PaymentMethod: PaymentCard,
			Items: []cart.Line{{ProductID: p, StoreID: st, Quantity: 0}}}, "items[0].quantity"},
		{"negative quantity", CreateOrderInput{CustomerID: customer, ShippingAddress: shipTo, PaymentMethod: PaymentCard,
			Items: []cart.Line{{ProductID: p, StoreID: st, Quantity: -2}}}, "items[0].quantity"},
		{"unknown payment method", CreateOrderInput{CustomerID: customer, ShippingAddress: shipTo, PaymentMethod: "cheque",
			Items: good}, "payment_method"},
		{"missing address", CreateOrderInput{CustomerID: customer, PaymentMethod: PaymentCard, Items: good}, "shipping_address.address_line1"},
		{"missing customer", CreateOrderInput{ShippingAddress: shipTo, PaymentMethod: PaymentCard, Items: good}, "customer_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrders(customerCtx(customer), tt.in)
			require.ErrorIs(t, err, apperr.ErrValidation)

			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.Equal(t, 0, f.repo.OrderCount())
	assert.Equal(t, 5, f.repo.Stock(p))
}

func TestService_CreateOrders_CatalogChecks(t *testing.T) {
	f := newFixture(t)
	active := f.catalog.addStore(true)
	closed := f.catalog.addStore(false)
	p := f.catalog.addProduct(active, "10.00", 5)
	pClosed := f.catalog.addProduct(closed, "10.00", 5)
	disabled := f.catalog.addProduct(active, "10.00", 5)
	f.catalog.products[disabled].Status = "disable"
	customer := uuid.New()

	place := func(lines ...cart.Line) error {
		_, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
			CustomerID: customer, Items: lines, ShippingAddress: shipTo, PaymentMethod: PaymentCard,
		})
		return err
	}

	t.Run("UnknownProduct", func(t *testing.T) {
		err := place(cart.Line{ProductID: uuid.New(), StoreID: active, Quantity: 1})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("UnknownStore", func(t *testing.T) {
		err := place(cart.Line{ProductID: p, StoreID: uuid.New(), Quantity: 1})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("ProductFromOtherStore", func(t *testing.T) {
		err := place(cart.Line{ProductID: pClosed, StoreID: active, Quantity: 1})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("InactiveStore", func(t *testing.T) {
		err := place(cart.Line{ProductID: pClosed, StoreID: closed, Quantity: 1})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("DisabledProduct", func(t *testing.T) {
		err := place(cart.Line{ProductID: disabled, StoreID: active, Quantity: 1})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	assert.Equal(t, 0, f.repo.OrderCount())
}

func TestService_CreateOrders_PreCheckStock(t *testing.T) {
	repo := new(MockRepository)
	cat := newCatalog(newMemRepo())
	st := cat.addStore(true)
	p := cat.addProduct(st, "10.00", 2)
	m := metrics.NewOrderMetrics()
	svc := NewService(repo, cat, storeCatalog{cat}, testCalculator(t), WithMetrics(m))
	customer := uuid.New()

	_, err := svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID:      customer,
		Items:           []cart.Line{{ProductID: p, StoreID: st, Quantity: 5}},
		ShippingAddress: shipTo,
		PaymentMethod:   PaymentCard,
	})

	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, p, stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Shortfall())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StockRejections))
	repo.AssertNotCalled(t, "CreateOrdersTx", mock.Anything, mock.Anything)
}

func TestService_CreateOrders_PersistenceFailure(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	cat := newCatalog(newMemRepo())
	st := cat.addStore(true)
	p := cat.addProduct(st, "10.00", 5)
	m := metrics.NewOrderMetrics()
	svc := NewService(repo, cat, storeCatalog{cat}, testCalculator(t), WithMetrics(m), WithEventPublisher(pub))
	customer := uuid.New()

	dbErr := apperr.Persistence("commit create orders", errors.New("connection reset"))
	repo.On("CreateOrdersTx", mock.Anything, mock.Anything).Return(dbErr)

	_, err := svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID:      customer,
		Items:           []cart.Line{{ProductID: p, StoreID: st, Quantity: 1}},
		ShippingAddress: shipTo,
		PaymentMethod:   PaymentCard,
	})
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CreateFailures))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.OrdersCreated))
	pub.AssertNotCalled(t, "OrdersCreated", mock.Anything, mock.Anything)
}

func TestService_CreateOrders_PublishFailureIsNotFatal(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("OrdersCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := newFixture(t, WithEventPublisher(pub))
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 5)

	orders := f.place(t, uuid.New(), PaymentCard, cart.Line{ProductID: p, StoreID: st, Quantity: 1})
	assert.Len(t, orders, 1)
	assert.Equal(t, 4, f.repo.Stock(p))
	pub.AssertExpectations(t)
}

// Stock for the second store is drained between the pre-check and the
// transaction; nothing from the first store may be kept.
func TestService_CreateOrders_AtomicAcrossStores(t *testing.T) {
	f := newFixture(t)
	s1 := f.catalog.addStore(true)
	s2 := f.catalog.addStore(true)
	p1 := f.catalog.addProduct(s1, "100.00", 5)
	p2 := f.catalog.addProduct(s2, "50.00", 1)
	customer := uuid.New()

	f.repo.failNext = &apperr.InsufficientStockError{ProductID: p2, Requested: 1, Available: 0}

	_, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
		CustomerID: customer,
		Items: []cart.Line{
			{ProductID: p1, StoreID: s1, Quantity: 2},
			{ProductID: p2, StoreID: s2, Quantity: 1},
		},
		ShippingAddress: shipTo,
		PaymentMethod:   PaymentCard,
	})
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assert.Equal(t, 5, f.repo.Stock(p1))
	assert.Equal(t, 1, f.repo.Stock(p2))
	assert.Equal(t, 0, f.repo.OrderCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StockRejections))
}

func TestService_CreateOrders_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 10)

	const buyers = 25
	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			customer := uuid.New()
			_, err := f.svc.CreateOrders(customerCtx(customer), CreateOrderInput{
				CustomerID:      customer,
				Items:           []cart.Line{{ProductID: p, StoreID: st, Quantity: 1}},
				ShippingAddress: shipTo,
				PaymentMethod:   PaymentCard,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok.Load())
	assert.Equal(t, int64(buyers-10), rejected.Load())
	assert.Equal(t, 0, f.repo.Stock(p))
	assert.Equal(t, 10, f.repo.OrderCount())
}

// ---- CancelOrder ----

func TestService_CancelOrder(t *testing.T) {
	t.Run("RestoresStock", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("OrdersCreated", mock.Anything, mock.Anything).Return(nil)
		pub.On("OrderCancelled", mock.Anything, mock.Anything).Return(nil).Once()

		f := newFixture(t, WithEventPublisher(pub))
		s1 := f.catalog.addStore(true)
		p1 := f.catalog.addProduct(s1, "100.00", 5)
		p2 := f.catalog.addProduct(s1, "20.00", 8)
		customer := uuid.New()

		orders := f.place(t, customer, PaymentCashOnDelivery,
			cart.Line{ProductID: p1, StoreID: s1, Quantity: 2},
			cart.Line{ProductID: p2, StoreID: s1, Quantity: 3},
		)
		assert.Equal(t, 3, f.repo.Stock(p1))
		assert.Equal(t, 5, f.repo.Stock(p2))

		got, err := f.svc.CancelOrder(customerCtx(customer), orders[0].ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.NotNil(t, got.CancelledAt)
		assert.Equal(t, 5, f.repo.Stock(p1))
		assert.Equal(t, 8, f.repo.Stock(p2))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OrdersCancelled))

		_, err = f.svc.CancelOrder(customerCtx(customer), orders[0].ID)
		require.ErrorIs(t, err, apperr.ErrInvalidState)
		assert.Equal(t, 5, f.repo.Stock(p1))
		pub.AssertExpectations(t)
	})

	t.Run("PaidBecomesRefunded", func(t *testing.T) {
		f := newFixture(t)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		customer := uuid.New()
		orders := f.place(t, customer, PaymentCard, cart.Line{ProductID: p, StoreID: st, Quantity: 1})

		_, err := f.svc.MarkAsPaid(systemCtx(), orders[0].ID, "pay_123")
		require.NoError(t, err)

		got, err := f.svc.CancelOrder(customerCtx(customer), orders[0].ID)
		require.NoError(t, err)
		assert.Equal(t, PaymentRefunded, got.PaymentStatus)
	})

	t.Run("DeliveredIsNotCancellable", func(t *testing.T) {
		f := newFixture(t)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		customer := uuid.New()
		orders := f.place(t, customer, PaymentCashOnDelivery, cart.Line{ProductID: p, StoreID: st, Quantity: 2})

		delivered := StatusDelivered
		_, err := f.svc.UpdateOrder(adminCtx(), orders[0].ID, UpdateOrderInput{Status: &delivered})
		require.NoError(t, err)

		_, err = f.svc.CancelOrder(customerCtx(customer), orders[0].ID)
		require.ErrorIs(t, err, apperr.ErrInvalidState)

		var stateErr *apperr.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "delivered", stateErr.From)
		assert.Equal(t, 3, f.repo.Stock(p))
	})

	t.Run("OutForDeliveryIsNotCancellable", func(t *testing.T) {
		f := newFixture(t)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		customer := uuid.New()
		orders := f.place(t, customer, PaymentCard, cart.Line{ProductID: p, StoreID: st, Quantity: 1})

		out := StatusOutForDelivery
		_, err := f.svc.UpdateOrder(adminCtx(), orders[0].ID, UpdateOrderInput{Status: &out})
		require.NoError(t, err)

		_, err = f.svc.CancelOrder(adminCtx(), orders[0].ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("Access", func(t *testing.T) {
		f := newFixture(t)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		customer := uuid.New()
		orders := f.place(t, customer, PaymentCard,
			cart.Line{ProductID: p, StoreID: st, Quantity: 1})

		_, err := f.svc.CancelOrder(customerCtx(uuid.New()), orders[0].ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)

		_, err = f.svc.CancelOrder(sellerCtx(uuid.New()), orders[0].ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)

		_, err = f.svc.CancelOrder(context.Background(), orders[0].ID)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)

		assert.Equal(t, 4, f.repo.Stock(p))

		_, err = f.svc.CancelOrder(sellerCtx(st), orders[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, 5, f.repo.Stock(p))
	})

	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CancelOrder(adminCtx(), uuid.New())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

// ---- UpdateOrder ----

func TestService_UpdateOrder(t *testing.T) {
	setup := func(t *testing.T, opts ...Option) (*fixture, *Order) {
		f := newFixture(t, opts...)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		orders := f.place(t, uuid.New(), PaymentCashOnDelivery, cart.Line{ProductID: p, StoreID: st, Quantity: 1})
		return f, orders[0]
	}
	statusPtr := func(s Status) *Status { return &s }

	t.Run("AdvanceWithTracking", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("OrdersCreated", mock.Anything, mock.Anything).Return(nil)
		pub.On("OrderStatusChanged", mock.Anything, mock.Anything, StatusConfirmed).Return(nil).Once()

		f, o := setup(t, WithEventPublisher(pub))
		got, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{
			Status:         statusPtr(StatusOutForDelivery),
			TrackingNumber: utils.StrPtr("  JNE-123  "),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusOutForDelivery, got.Status)
		assert.Equal(t, "JNE-123", got.TrackingNumber)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusChanges))
		pub.AssertExpectations(t)
	})

	t.Run("NotesOnlyKeepsStatus", func(t *testing.T) {
		f, o := setup(t)
		got, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Notes: utils.StrPtr("leave at door")})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, "leave at door", got.Notes)
		assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.StatusChanges))
	})

	t.Run("BackwardsRejected", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusPending)})
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("CancelledRejected", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusCancelled)})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr("lost")})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("NonAdminForbidden", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.UpdateOrder(customerCtx(o.CustomerID), o.ID, UpdateOrderInput{Notes: utils.StrPtr("x")})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("CashOnDeliveryPaidOnDelivery", func(t *testing.T) {
		f, o := setup(t)
		got, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusDelivered)})
		require.NoError(t, err)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.NotNil(t, got.PaidAt)
	})

	t.Run("FailedFromAnyOpenState", func(t *testing.T) {
		f, o := setup(t)
		got, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusFailed)})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)

		_, err = f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusReturned)})
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("NoInventoryEffect", func(t *testing.T) {
		f, o := setup(t)
		before := f.repo.Stock(o.Items[0].ProductID)
		_, err := f.svc.UpdateOrder(adminCtx(), o.ID, UpdateOrderInput{Status: statusPtr(StatusReturned)})
		require.NoError(t, err)
		assert.Equal(t, before, f.repo.Stock(o.Items[0].ProductID))
	})
}

// ---- MarkAsPaid ----

func TestService_MarkAsPaid(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *Order) {
		f := newFixture(t, WithClock(func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }))
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		orders := f.place(t, uuid.New(), PaymentCard, cart.Line{ProductID: p, StoreID: st, Quantity: 1})
		return f, orders[0]
	}

	t.Run("ConfirmsPendingOrder", func(t *testing.T) {
		f, o := setup(t)
		got, err := f.svc.MarkAsPaid(systemCtx(), o.ID, "pay_1")
		require.NoError(t, err)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, "pay_1", got.PaymentReference)
		require.NotNil(t, got.PaidAt)
		assert.Equal(t, 2026, got.PaidAt.Year())
	})

	t.Run("ReplayIsIdempotent", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.MarkAsPaid(systemCtx(), o.ID, "pay_1")
		require.NoError(t, err)
		got, err := f.svc.MarkAsPaid(systemCtx(), o.ID, "pay_1")
		require.NoError(t, err)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PaymentsApplied))
	})

	t.Run("CancelledRejected", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.CancelOrder(adminCtx(), o.ID)
		require.NoError(t, err)

		_, err = f.svc.MarkAsPaid(systemCtx(), o.ID, "pay_1")
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("RequiresReference", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.MarkAsPaid(systemCtx(), o.ID, "   ")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("CustomerForbidden", func(t *testing.T) {
		f, o := setup(t)
		_, err := f.svc.MarkAsPaid(customerCtx(o.CustomerID), o.ID, "pay_1")
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})
}

func TestService_MarkPaymentFailed(t *testing.T) {
	setup := func(t *testing.T, method PaymentMethod) (*fixture, *Order) {
		f := newFixture(t)
		st := f.catalog.addStore(true)
		p := f.catalog.addProduct(st, "10.00", 5)
		orders := f.place(t, uuid.New(), method, cart.Line{ProductID: p, StoreID: st, Quantity: 2})
		return f, orders[0]
	}

	t.Run("FailsOpenOrderKeepingStock", func(t *testing.T) {
		f, o := setup(t, PaymentCard)
		stock := f.repo.Stock(o.Items[0].ProductID)

		got, err := f.svc.MarkPaymentFailed(systemCtx(), o.ID, "pay_9")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, PaymentFailed, got.PaymentStatus)
		assert.Equal(t, "pay_9", got.PaymentReference)
		assert.Nil(t, got.PaidAt)
		assert.Equal(t, stock, f.repo.Stock(o.Items[0].ProductID))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PaymentsFailed))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusChanges))
	})

	t.Run("ReplayIsIdempotent", func(t *testing.T) {
		f, o := setup(t, PaymentCard)
		_, err := f.svc.MarkPaymentFailed(systemCtx(), o.ID, "")
		require.NoError(t, err)
		got, err := f.svc.MarkPaymentFailed(systemCtx(), o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PaymentsFailed))
	})

	t.Run("PaidOrderRejected", func(t *testing.T) {
		f, o := setup(t, PaymentCard)
		_, err := f.svc.MarkAsPaid(systemCtx(), o.ID, "pay_1")
		require.NoError(t, err)

		_, err = f.svc.MarkPaymentFailed(systemCtx(), o.ID, "pay_2")
		assert.ErrorIs(t, err, apperr.ErrInvalidState)

		got, err := f.svc.GetOrder(adminCtx(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
	})

	t.Run("TerminalOrderKeepsStatus", func(t *testing.T) {
		f, o := setup(t, PaymentCard)
		_, err := f.svc.CancelOrder(adminCtx(), o.ID)
		require.NoError(t, err)

		got, err := f.svc.MarkPaymentFailed(systemCtx(), o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, PaymentFailed, got.PaymentStatus)
		assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.StatusChanges))
	})

	t.Run("CustomerForbidden", func(t *testing.T) {
		f, o := setup(t, PaymentCard)
		_, err := f.svc.MarkPaymentFailed(customerCtx(o.CustomerID), o.ID, "")
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("UnknownOrder", func(t *testing.T) {
		f, _ := setup(t, PaymentCard)
		_, err := f.svc.MarkPaymentFailed(systemCtx(), uuid.New(), "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

// ---- queries ----

func TestService_GetOrder(t *testing.T) {
	f := newFixture(t)
	st := f.catalog.addStore(true)
	p := f.catalog.addProduct(st, "10.00", 5)
	customer := uuid.New()
	o := f.place(t, customer, PaymentCard, cart.Line{ProductID: p, StoreID: st, Quantity: 1})[0]

	got, err := f.svc.GetOrder(customerCtx(customer), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)

	_, err = f.svc.GetOrder(sellerCtx(st), o.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetOrder(customerCtx(uuid.New()), o.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.GetOrder(customerCtx(customer), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_ListOrders(t *testing.T) {
	f := newFixture(t)
	s1 := f.catalog.addStore(true)
	s2 := f.catalog.addStore(true)
	p1 := f.catalog.addProduct(s1, "10.00", 50)
	p2 := f.catalog.addProduct(s2, "10.00", 50)
	alice, bob := uuid.New(), uuid.New()

	f.place(t, alice, PaymentCard, cart.Line{ProductID: p1, StoreID: s1, Quantity: 1}, cart.Line{ProductID: p2, StoreID: s2, Quantity: 1})
	f.place(t, alice, PaymentCashOnDelivery, cart.Line{ProductID: p1, StoreID: s1, Quantity: 1})
	f.place(t, bob, PaymentCard, cart.Line{ProductID: p1, StoreID: s1, Quantity: 1})

	t.Run("CustomerSeesOwnOrders", func(t *testing.T) {
		list, err := f.svc.ListOrders(customerCtx(alice), OrderFilter{}, Page{})
		require.NoError(t, err)
		assert.Equal(t, 3, list.Total)
		assert.Equal(t, 20, list.Limit)
		assert.Equal(t, 1, list.Page)
		for _, o := range list.Orders {
			assert.Equal(t, alice, o.CustomerID)
			assert.NotEmpty(t, o.Items)
		}
	})

	t.Run("CustomerCannotWidenScope", func(t *testing.T) {
		list, err := f.svc.ListOrders(customerCtx(bob), OrderFilter{CustomerID: &alice}, Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, list.Total)
	})

	t.Run("SellerSeesStoreOrders", func(t *testing.T) {
		list, err := f.svc.ListOrders(sellerCtx(s1), OrderFilter{}, Page{})
		require.NoError(t, err)
		assert.Equal(t, 3, list.Total)
		for _, o := range list.Orders {
			assert.Equal(t, s1, o.StoreID)
		}

		_, err = f.svc.ListOrders(sellerCtx(s1), OrderFilter{StoreID: &s2}, Page{})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("StatusCountsIgnoreStatusFilter", func(t *testing.T) {
		pending := StatusPending
		list, err := f.svc.ListOrders(adminCtx(), OrderFilter{StoreID: &s1, Status: &pending}, Page{Limit: 1})
		require.NoError(t, err)

		assert.Equal(t, 2, list.Total)
		assert.Len(t, list.Orders, 1)
		assert.Equal(t, 2, list.StatusCounts[StatusPending])
		assert.Equal(t, 1, list.StatusCounts[StatusConfirmed])
		assert.Equal(t, 0, list.StatusCounts[StatusDelivered])

		sum := 0
		for _, n := range list.StatusCounts {
			sum += n
		}
		assert.Equal(t, 3, sum)
		assert.Equal(t, sum, list.StatusTotal)

		unfiltered, err := f.svc.ListOrders(adminCtx(), OrderFilter{StoreID: &s1}, Page{})
		require.NoError(t, err)
		assert.Equal(t, unfiltered.Total, list.StatusTotal)
		assert.Equal(t, unfiltered.Total, unfiltered.StatusTotal)
	})

	t.Run("InvalidStatusFilter", func(t *testing.T) {
		bad := Status("lost")
		_, err := f.svc.ListOrders(adminCtx(), OrderFilter{Status: &bad}, Page{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Anonymous", func(t *testing.T) {
		_, err := f.svc.ListOrders(context.Background(), OrderFilter{}, Page{})
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestService_ListOrders_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	cat := newCatalog(newMemRepo())
	svc := NewService(repo, cat, storeCatalog{cat}, testCalculator(t))

	dbErr := apperr.Persistence("fetch orders", errors.New("timeout"))
	repo.On("FetchOrders", mock.Anything, mock.Anything, 100, 100).Return(nil, dbErr)

	_, err := svc.ListOrders(adminCtx(), OrderFilter{}, Page{Limit: 500, Page: 2})
	require.ErrorIs(t, err, apperr.ErrPersistence)
	repo.AssertNotCalled(t, "CountOrders", mock.Anything, mock.Anything)
}
