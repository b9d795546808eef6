package utils

import "context"

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	StoreIDKey   contextKey = "store_id"
	UserEmailKey contextKey = "email"
	UserRoleKey  contextKey = "role"
)

const internalRequestKey contextKey = "internal_request"

// WithInternalRequest marks ctx as issued by the system itself (payment
// feed, consumers) rather than by an end user.
func WithInternalRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalRequestKey, true)
}

func IsInternalRequest(ctx context.Context) bool {
	v, _ := ctx.Value(internalRequestKey).(bool)
	return v
}
