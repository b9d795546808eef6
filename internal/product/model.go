package product

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusActive  = "active"
	StatusDisable = "disable"
)

// Product is the slice of the catalog the order core reads: who sells it,
// what it costs now and how many units are on hand.
type Product struct {
	ID       uuid.UUID       `json:"id"`
	StoreID  uuid.UUID       `json:"store_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Status   string          `json:"status"`
}

func (p *Product) IsActive() bool {
	return p.Status == StatusActive
}
