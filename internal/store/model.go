package store

import "github.com/google/uuid"

// Store is a vendor storefront. The order core only checks that it exists
// and is open for orders.
type Store struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}
