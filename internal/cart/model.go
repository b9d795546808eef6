package cart

import (
	"math"

	"github.com/google/uuid"
)

// MaxQuantity bounds one line, merged duplicates included, to the INTEGER
// range of the order_items.quantity column.
const MaxQuantity = math.MaxInt32

// Line is one requested (product, quantity) pair of a cart submission,
// tagged with the store that sells the product.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	StoreID   uuid.UUID `json:"store_id"`
	Quantity  int       `json:"quantity"`
}

// Group is the subset of a cart's lines sharing one store. It becomes exactly
// one order.
type Group struct {
	StoreID uuid.UUID
	Lines   []Line
}

func (g Group) ProductIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Lines))
	for _, l := range g.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}
