package order

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/product"
	"marketplace-be/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository whose transactions are serialised by a
// mutex. It applies a whole batch or nothing, like the Postgres repository.
type memRepo struct {
	mu       sync.Mutex
	stock    map[uuid.UUID]int
	orders   map[uuid.UUID]*Order
	seq      int
	failNext error
}

func newMemRepo() *memRepo {
	return &memRepo{
		stock:  make(map[uuid.UUID]int),
		orders: make(map[uuid.UUID]*Order),
	}
}

func (r *memRepo) Stock(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[id]
}

func (r *memRepo) SetStock(id uuid.UUID, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[id] = qty
}

func (r *memRepo) OrderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}

func (r *memRepo) CreateOrdersTx(ctx context.Context, orders []*Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := maps.Clone(r.stock)
	for _, o := range orders {
		for _, it := range o.Items {
			available, ok := next[it.ProductID]
			if !ok {
				return apperr.NotFound("product", it.ProductID)
			}
			if available < it.Quantity {
				return &apperr.InsufficientStockError{
					ProductID: it.ProductID,
					Requested: it.Quantity,
					Available: available,
				}
			}
			next[it.ProductID] = available - it.Quantity
		}
	}

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}

	for _, o := range orders {
		r.seq++
		o.OrderNumber = fmt.Sprintf("ORD-TEST-%04d", r.seq)
		r.orders[o.ID] = cloneOrder(o)
	}
	r.stock = next
	return nil
}

func (r *memRepo) CancelOrderTx(ctx context.Context, orderID uuid.UUID, check func(*Order) error) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	o := cloneOrder(stored)
	if err := check(o); err != nil {
		return nil, err
	}

	for _, it := range o.Items {
		r.stock[it.ProductID] += it.Quantity
	}

	now := time.Now().UTC()
	o.Status = StatusCancelled
	if o.PaymentStatus == PaymentPaid {
		o.PaymentStatus = PaymentRefunded
	}
	o.CancelledAt = &now
	o.UpdatedAt = now
	r.orders[orderID] = cloneOrder(o)
	return o, nil
}

func (r *memRepo) UpdateOrderTx(ctx context.Context, orderID uuid.UUID, mutate Mutator) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	o := cloneOrder(stored)
	changed, err := mutate(o)
	if err != nil {
		return nil, err
	}
	if changed {
		o.UpdatedAt = time.Now().UTC()
		r.orders[orderID] = cloneOrder(o)
	}
	return o, nil
}

func (r *memRepo) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	return cloneOrder(o), nil
}

func (r *memRepo) matching(f OrderFilter, withStatus bool) []*Order {
	var out []*Order
	for _, o := range r.orders {
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.StoreID != nil && o.StoreID != *f.StoreID {
			continue
		}
		if withStatus && f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber > out[j].OrderNumber })
	return out
}

func (r *memRepo) FetchOrders(ctx context.Context, f OrderFilter, limit, offset int) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.matching(f, true)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))

	out := make([]*Order, 0, end-offset)
	for _, o := range all[offset:end] {
		c := cloneOrder(o)
		c.Items = nil
		out = append(out, c)
	}
	return out, nil
}

func (r *memRepo) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(f, true)), nil
}

func (r *memRepo) CountByStatus(ctx context.Context, f OrderFilter) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, o := range r.matching(f, false) {
		counts[o.Status]++
	}
	return counts, nil
}

func (r *memRepo) FetchOrderItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uuid.UUID][]OrderItem, len(ids))
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			out[id] = append([]OrderItem(nil), o.Items...)
		}
	}
	return out, nil
}

// catalog serves products and stores; product quantities are read live from
// the memRepo so the service's pre-check sees committed stock.
type catalog struct {
	repo     *memRepo
	products map[uuid.UUID]*product.Product
	stores   map[uuid.UUID]*store.Store
}

func newCatalog(repo *memRepo) *catalog {
	return &catalog{
		repo:     repo,
		products: make(map[uuid.UUID]*product.Product),
		stores:   make(map[uuid.UUID]*store.Store),
	}
}

func (c *catalog) addStore(active bool) uuid.UUID {
	id := uuid.New()
	c.stores[id] = &store.Store{ID: id, Name: "store-" + id.String()[:4], IsActive: active}
	return id
}

func (c *catalog) addProduct(storeID uuid.UUID, price string, qty int) uuid.UUID {
	id := uuid.New()
	c.products[id] = &product.Product{
		ID:      id,
		StoreID: storeID,
		Name:    "product-" + id.String()[:4],
		Price:   decimal.RequireFromString(price),
		Status:  product.StatusActive,
	}
	c.repo.SetStock(id, qty)
	return id
}

func (c *catalog) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*product.Product, error) {
	out := make(map[uuid.UUID]*product.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			cp := *p
			cp.Quantity = c.repo.Stock(id)
			out[id] = &cp
		}
	}
	return out, nil
}

type storeCatalog struct{ *catalog }

func (s storeCatalog) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Store, error) {
	out := make(map[uuid.UUID]*store.Store, len(ids))
	for _, id := range ids {
		if st, ok := s.stores[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}
