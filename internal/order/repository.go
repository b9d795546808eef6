package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-be/internal/address"
	"marketplace-be/internal/apperr"
	"marketplace-be/internal/inventory"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxOrderNumberAttempts = 3

// Mutator edits a locked order in place. It reports false when nothing
// changed, in which case no write is issued.
type Mutator func(o *Order) (bool, error)

type Repository interface {
	// CreateOrdersTx reserves stock for every item of every order and
	// inserts all of them in one transaction. Either every order exists
	// afterwards or none does.
	CreateOrdersTx(ctx context.Context, orders []*Order) error

	// CancelOrderTx locks the order, runs check, returns every item to
	// stock and marks the order cancelled, all in one transaction.
	CancelOrderTx(ctx context.Context, orderID uuid.UUID, check func(*Order) error) (*Order, error)

	UpdateOrderTx(ctx context.Context, orderID uuid.UUID, mutate Mutator) (*Order, error)

	GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error)
	FetchOrders(ctx context.Context, filter OrderFilter, limit, offset int) ([]*Order, error)
	CountOrders(ctx context.Context, filter OrderFilter) (int, error)
	CountByStatus(ctx context.Context, filter OrderFilter) (map[Status]int, error)
	FetchOrderItems(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error)
}

type repository struct {
	db      *sql.DB
	ledger  *inventory.Ledger
	numbers func(storeID uuid.UUID, now time.Time) string
	now     func() time.Time
}

func NewRepository(db *sql.DB, ledger *inventory.Ledger) Repository {
	return &repository{
		db:      db,
		ledger:  ledger,
		numbers: utils.GenerateOrderNumber,
		now:     time.Now,
	}
}

const orderColumns = `
	o.id, o.order_number, o.customer_id, o.store_id, o.status,
	o.payment_method, o.payment_status, COALESCE(o.payment_reference, ''),
	o.subtotal, o.tax, o.shipping_cost, o.discount, o.total,
	o.shipping_address, o.billing_address,
	COALESCE(o.notes, ''), COALESCE(o.tracking_number, ''),
	o.paid_at, o.cancelled_at, o.created_at, o.updated_at
`

const itemColumns = `
	oi.id, oi.order_id, oi.product_id, oi.store_id, oi.product_name,
	oi.unit_price, oi.quantity, oi.line_total, oi.created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o         Order
		billing   []byte
		paidAt    sql.NullTime
		cancelled sql.NullTime
	)

	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.StoreID, &o.Status,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentReference,
		&o.Subtotal, &o.Tax, &o.ShippingCost, &o.Discount, &o.Total,
		&o.ShippingAddress, &billing,
		&o.Notes, &o.TrackingNumber,
		&paidAt, &cancelled, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if billing != nil {
		var b address.Snapshot
		if err := b.Scan(billing); err != nil {
			return nil, err
		}
		o.BillingAddress = &b
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if cancelled.Valid {
		o.CancelledAt = &cancelled.Time
	}

	return &o, nil
}

func scanItem(row rowScanner) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.StoreID, &it.ProductName,
		&it.UnitPrice, &it.Quantity, &it.LineTotal, &it.CreatedAt,
	)
	return it, err
}

func (r *repository) CreateOrdersTx(ctx context.Context, orders []*Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrdersTx"),
		zap.Int("order_count", len(orders)),
	)

	log.Debug("starting create orders transaction")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return apperr.Persistence("begin create orders", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			} else {
				log.Debug("transaction rolled back")
			}
		}
	}()

	var lines []inventory.Line
	for _, o := range orders {
		for _, it := range o.Items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}

	if _, err := r.ledger.ReserveAll(ctx, tx, lines); err != nil {
		log.Warn("stock reservation failed", zap.Error(err))
		return err
	}

	for _, o := range orders {
		if err := r.insertOrder(ctx, tx, o); err != nil {
			log.Error("failed to insert order",
				zap.String("store_id", o.StoreID.String()),
				zap.Error(err),
			)
			return err
		}

		for i := range o.Items {
			if err := insertItem(ctx, tx, &o.Items[i]); err != nil {
				log.Error("failed to insert order item",
					zap.String("order_id", o.ID.String()),
					zap.Int("item_index", i),
					zap.Error(err),
				)
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit create orders transaction", zap.Error(err))
		return apperr.Persistence("commit create orders", err)
	}

	committed = true
	log.Info("create orders transaction committed")

	return nil
}

// insertOrder writes the order row, regenerating the order number on a
// unique violation. The savepoint keeps the rest of the transaction usable.
func (r *repository) insertOrder(ctx context.Context, tx *sql.Tx, o *Order) error {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT order_number`); err != nil {
			return apperr.Persistence("savepoint", err)
		}

		o.OrderNumber = r.numbers(o.StoreID, o.CreatedAt)

		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, customer_id, store_id, status,
				payment_method, payment_status,
				subtotal, tax, shipping_cost, discount, total,
				shipping_address, billing_address, notes,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15,''),$16,$17)
		`,
			o.ID, o.OrderNumber, o.CustomerID, o.StoreID, o.Status,
			o.PaymentMethod, o.PaymentStatus,
			o.Subtotal, o.Tax, o.ShippingCost, o.Discount, o.Total,
			o.ShippingAddress, billingValue(o.BillingAddress), o.Notes,
			o.CreatedAt, o.UpdatedAt,
		)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT order_number`); err != nil {
				return apperr.Persistence("release savepoint", err)
			}
			return nil
		}

		if !isUniqueViolation(err, "orders_order_number_key") {
			return apperr.Persistence("insert order", err)
		}

		logger.FromCtx(ctx).Warn("order number collision, retrying",
			zap.String("order_number", o.OrderNumber),
			zap.Int("attempt", attempt+1),
		)

		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT order_number`); err != nil {
			return apperr.Persistence("rollback savepoint", err)
		}
	}

	return apperr.Persistence("insert order", ErrOrderNumberExhausted)
}

func insertItem(ctx context.Context, tx *sql.Tx, it *OrderItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_items (
			id, order_id, product_id, store_id, product_name,
			unit_price, quantity, line_total, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		it.ID, it.OrderID, it.ProductID, it.StoreID, it.ProductName,
		it.UnitPrice, it.Quantity, it.LineTotal, it.CreatedAt,
	)
	if isCheckViolation(err) {
		return apperr.Validation("quantity", "must be greater than zero")
	}
	return apperr.Persistence("insert order item", err)
}

func billingValue(b *address.Snapshot) any {
	if b == nil {
		return nil
	}
	return *b
}

func (r *repository) CancelOrderTx(ctx context.Context, orderID uuid.UUID, check func(*Order) error) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CancelOrderTx"),
		zap.String("order_id", orderID.String()),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return nil, apperr.Persistence("begin cancel order", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := check(o); err != nil {
		return nil, err
	}

	items, err := queryItems(ctx, tx, orderID)
	if err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, err
	}

	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if err := r.ledger.ReleaseAll(ctx, tx, lines); err != nil {
		log.Error("failed to release stock", zap.Error(err))
		return nil, err
	}

	now := r.now().UTC()
	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2,
			payment_status = CASE WHEN payment_status = 'paid' THEN 'refunded' ELSE payment_status END,
			cancelled_at = $3,
			updated_at = $3
		WHERE id = $1
		RETURNING payment_status
	`, orderID, StatusCancelled, now).Scan(&o.PaymentStatus)
	if err != nil {
		log.Error("failed to mark order cancelled", zap.Error(err))
		return nil, apperr.Persistence("cancel order", err)
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit cancel transaction", zap.Error(err))
		return nil, apperr.Persistence("commit cancel order", err)
	}
	committed = true

	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	o.Items = items

	log.Info("order cancelled", zap.Int("released_lines", len(lines)))
	return o, nil
}

func (r *repository) UpdateOrderTx(ctx context.Context, orderID uuid.UUID, mutate Mutator) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "UpdateOrderTx"),
		zap.String("order_id", orderID.String()),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return nil, apperr.Persistence("begin update order", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	changed, err := mutate(o)
	if err != nil {
		return nil, err
	}

	if changed {
		o.UpdatedAt = r.now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
				payment_status = $3,
				payment_reference = NULLIF($4, ''),
				paid_at = $5,
				tracking_number = NULLIF($6, ''),
				notes = NULLIF($7, ''),
				updated_at = $8
			WHERE id = $1
		`,
			orderID, o.Status, o.PaymentStatus, o.PaymentReference, o.PaidAt,
			o.TrackingNumber, o.Notes, o.UpdatedAt,
		)
		if err != nil {
			log.Error("failed to update order", zap.Error(err))
			return nil, apperr.Persistence("update order", err)
		}
	}

	items, err := queryItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit update transaction", zap.Error(err))
		return nil, apperr.Persistence("commit update order", err)
	}
	committed = true

	log.Debug("order update finished", zap.Bool("changed", changed))
	return o, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, apperr.Persistence("lock order", err)
	}
	return o, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryItems(ctx context.Context, q queryer, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items oi
		WHERE oi.order_id = $1
		ORDER BY oi.created_at, oi.id
	`, orderID)
	if err != nil {
		return nil, apperr.Persistence("query order items", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Persistence("scan order item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate order items", err)
	}
	return items, nil
}

func (r *repository) GetOrderDetail(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetOrderDetail"),
		zap.String("order_id", orderID.String()),
	)

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("order not found")
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		log.Error("failed to query order", zap.Error(err))
		return nil, apperr.Persistence("get order", err)
	}

	o.Items, err = queryItems(ctx, r.db, orderID)
	if err != nil {
		log.Error("failed to query order items", zap.Error(err))
		return nil, err
	}

	return o, nil
}

// buildWhere renders filter as a WHERE clause. The status condition is
// skipped when withStatus is false so per-status counts cover every tab.
func buildWhere(f OrderFilter, withStatus bool) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if f.CustomerID != nil {
		add("o.customer_id = $%d", *f.CustomerID)
	}
	if f.StoreID != nil {
		add("o.store_id = $%d", *f.StoreID)
	}
	if withStatus && f.Status != nil {
		add("o.status = $%d", string(*f.Status))
	}
	if f.DateFrom != nil {
		add("o.created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("o.created_at <= $%d", *f.DateTo)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("o.order_number ILIKE $%d", "%"+s+"%")
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repository) FetchOrders(ctx context.Context, filter OrderFilter, limit, offset int) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "FetchOrders"),
		zap.Int("limit", limit),
		zap.Int("offset", offset),
	)

	where, args := buildWhere(filter, true)
	query := `SELECT ` + orderColumns + ` FROM orders o` + where +
		fmt.Sprintf(" ORDER BY o.created_at DESC, o.id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	log.Debug("executing fetch orders query", zap.String("query", query), zap.Any("args", args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, apperr.Persistence("fetch orders", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, apperr.Persistence("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		log.Error("rows iteration error", zap.Error(err))
		return nil, apperr.Persistence("iterate orders", err)
	}

	return orders, nil
}

func (r *repository) CountOrders(ctx context.Context, filter OrderFilter) (int, error) {
	where, args := buildWhere(filter, true)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o`+where, args...).Scan(&total); err != nil {
		logger.FromCtx(ctx).Error("failed to count orders", zap.Error(err))
		return 0, apperr.Persistence("count orders", err)
	}
	return total, nil
}

func (r *repository) CountByStatus(ctx context.Context, filter OrderFilter) (map[Status]int, error) {
	where, args := buildWhere(filter, false)

	rows, err := r.db.QueryContext(ctx, `SELECT o.status, COUNT(*) FROM orders o`+where+` GROUP BY o.status`, args...)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to count orders by status", zap.Error(err))
		return nil, apperr.Persistence("count by status", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Persistence("scan status count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate status counts", err)
	}
	return counts, nil
}

func (r *repository) FetchOrderItems(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	out := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items oi
		WHERE oi.order_id = ANY($1::uuid[])
		ORDER BY oi.created_at, oi.id
	`, pq.Array(keys))
	if err != nil {
		logger.FromCtx(ctx).Error("failed to fetch order items", zap.Error(err))
		return nil, apperr.Persistence("fetch order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Persistence("scan order item", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate order items", err)
	}
	return out, nil
}

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation
}
