package utils

import (
	"context"

	"github.com/google/uuid"
)

const (
	RoleAdmin    = "ADMIN"
	RoleSeller   = "SELLER"
	RoleCustomer = "CUSTOMER"
)

// SetUserContext sets the caller identity (called by middleware).
func SetUserContext(ctx context.Context, id uuid.UUID, email string, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id)
	ctx = context.WithValue(ctx, UserEmailKey, email)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	return ctx
}

// SetStoreContext records the store a seller acts for.
func SetStoreContext(ctx context.Context, storeID uuid.UUID) context.Context {
	return context.WithValue(ctx, StoreIDKey, storeID)
}

func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func GetUserEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func GetUserRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}

func GetStoreIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(StoreIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func IsAdmin(ctx context.Context) bool {
	return GetUserRoleFromContext(ctx) == RoleAdmin
}
