package cart

import "errors"

var (
	// -- Validation & Input --
	ErrCartEmpty        = errors.New("cart is empty")
	ErrMissingStore     = errors.New("store id is required")
	ErrMissingProduct   = errors.New("product id is required")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrQuantityTooLarge = errors.New("quantity is too large")
)
