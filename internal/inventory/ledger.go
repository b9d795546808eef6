package inventory

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Querier is the part of *sql.Tx the ledger needs. Every ledger call runs
// inside the caller's transaction; the ledger never commits.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// Reservation is the outcome of one successful reserve.
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
	Remaining int
}

type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve locks the product row and decrements its quantity. The lock is held
// until the caller's transaction ends, so concurrent reservations of the same
// product are serialised.
func (l *Ledger) Reserve(ctx context.Context, q Querier, productID uuid.UUID, qty int) (int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "inventory"),
		zap.String("method", "Reserve"),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", qty),
	)

	if qty <= 0 {
		return 0, apperr.Validation("quantity", "must be greater than zero")
	}

	var available int
	err := q.QueryRowContext(ctx, `
		SELECT quantity
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("product not found")
		return 0, apperr.NotFound("product", productID)
	}
	if err != nil {
		log.Error("failed to lock product row", zap.Error(err))
		return 0, apperr.Persistence("lock product", err)
	}

	if available < qty {
		log.Warn("insufficient stock", zap.Int("available", available))
		return available, &apperr.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: available,
		}
	}

	var remaining int
	err = q.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity
	`, productID, qty).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		// row lock makes this unreachable on Postgres, kept as a guard
		return available, &apperr.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: available,
		}
	}
	if err != nil {
		log.Error("failed to decrement stock", zap.Error(err))
		return 0, apperr.Persistence("decrement stock", err)
	}

	log.Debug("stock reserved", zap.Int("remaining", remaining))
	return remaining, nil
}

// Release returns qty units to the product. It only fails when the product
// is gone or the database errors.
func (l *Ledger) Release(ctx context.Context, q Querier, productID uuid.UUID, qty int) (int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "inventory"),
		zap.String("method", "Release"),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", qty),
	)

	if qty <= 0 {
		return 0, apperr.Validation("quantity", "must be greater than zero")
	}

	var remaining int
	err := q.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING quantity
	`, productID, qty).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("product not found")
		return 0, apperr.NotFound("product", productID)
	}
	if err != nil {
		log.Error("failed to release stock", zap.Error(err))
		return 0, apperr.Persistence("release stock", err)
	}

	log.Debug("stock released", zap.Int("remaining", remaining))
	return remaining, nil
}

// ReserveAll reserves every line in ascending product id order. Two carts
// touching the same products therefore acquire row locks in the same order
// and cannot deadlock. It stops at the first failure; the caller rolls back.
func (l *Ledger) ReserveAll(ctx context.Context, q Querier, lines []Line) ([]Reservation, error) {
	merged := Merge(lines)

	out := make([]Reservation, 0, len(merged))
	for _, line := range merged {
		remaining, err := l.Reserve(ctx, q, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		out = append(out, Reservation{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Remaining: remaining,
		})
	}
	return out, nil
}

// ReleaseAll is the inverse of ReserveAll, used on cancellation.
func (l *Ledger) ReleaseAll(ctx context.Context, q Querier, lines []Line) error {
	for _, line := range Merge(lines) {
		if _, err := l.Release(ctx, q, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Merge sums quantities per product and sorts by product id.
func Merge(lines []Line) []Line {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}

	out := make([]Line, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return out
}
