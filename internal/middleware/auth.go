package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/transport"
	"marketplace-be/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Claims carried by access tokens issued by the identity service.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	StoreID string `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

var knownRoles = []string{utils.RoleAdmin, utils.RoleSeller, utils.RoleCustomer}

// AuthMiddleware resolves the caller from the access token. Requests without
// a token pass through anonymous; a token that fails validation is rejected.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := parseToken(tokenStr, key)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("rejected access token", zap.Error(err))
				transport.WriteError(w, r, fmt.Errorf("%w: invalid access token", apperr.ErrUnauthorized))
				return
			}

			ctx := utils.SetUserContext(r.Context(), claims.userID(), claims.Email, claims.Role)
			if storeID, err := uuid.Parse(claims.StoreID); err == nil {
				ctx = utils.SetStoreContext(ctx, storeID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(tokenStr string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, errors.New("token subject is not a valid user id")
	}

	claims.Role = strings.ToUpper(claims.Role)
	if !slices.Contains(knownRoles, claims.Role) {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

func (c *Claims) userID() uuid.UUID {
	return uuid.MustParse(c.UserID)
}

// RequireRole rejects anonymous callers with 401 and callers outside roles
// with 403. With no roles any authenticated caller is accepted.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := utils.GetUserIDFromContext(r.Context()); !ok {
				transport.WriteError(w, r, fmt.Errorf("%w: authentication required", apperr.ErrUnauthorized))
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, utils.GetUserRoleFromContext(r.Context())) {
				transport.WriteError(w, r, fmt.Errorf("%w: insufficient role", apperr.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
