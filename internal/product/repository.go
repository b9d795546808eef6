package product

import (
	"context"
	"database/sql"

	"marketplace-be/internal/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Product, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const selectProduct = `
	SELECT id, store_id, name, price, quantity, status
	FROM products
`

// GetByIDs loads every known product in ids. Unknown ids are simply absent
// from the result.
func (r *repository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Product, error) {
	out := make(map[uuid.UUID]*Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetProductsByIDs"),
		zap.Int("count", len(ids)),
	)

	rows, err := r.db.QueryContext(ctx, selectProduct+` WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	if err != nil {
		log.Error("failed to query products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Quantity, &p.Status); err != nil {
			log.Error("failed to scan product row", zap.Error(err))
			return nil, err
		}
		out[p.ID] = &p
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debug("products loaded", zap.Int("found", len(out)))
	return out, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
