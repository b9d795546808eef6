package order

import "errors"

var (
	ErrNoIdentity           = errors.New("order: missing caller identity")
	ErrOrderNumberExhausted = errors.New("order: could not allocate a unique order number")
)
