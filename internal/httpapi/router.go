package httpapi

import (
	"context"
	"net/http"
	"time"

	"marketplace-be/internal/cache"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/middleware"
	"marketplace-be/internal/order"
	"marketplace-be/internal/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Orders         order.Service
	Metrics        *metrics.OrderMetrics
	Cache          cache.Cache
	IdempotencyTTL time.Duration
	Webhook        http.Handler
	Limiter        *middleware.RateLimiter
	JWTSecret      string
	CORSOrigin     string
	// Ping reports backing store health for /health; nil means always up.
	Ping func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(d.CORSOrigin))

	r.Get("/health", health(d.Ping))

	if d.Webhook != nil {
		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Method(http.MethodPost, "/webhook/payment", d.Webhook)
		})
	}

	orders := NewOrderHandler(d.Orders)
	idem := NewIdempotency(d.Cache, d.IdempotencyTTL, "create_order")

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.JWTSecret))
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}
		r.Use(middleware.RequireRole())

		r.With(
			middleware.RequireRole(utils.RoleCustomer, utils.RoleAdmin),
			idem.Middleware,
		).Post("/orders", orders.Create)
		r.Get("/orders", orders.List)
		r.Get("/orders/{id}", orders.Get)
		r.Post("/orders/{id}/cancel", orders.Cancel)
		r.With(middleware.RequireRole(utils.RoleAdmin)).Patch("/orders/{id}", orders.Update)

		r.Get("/stores/{storeId}/orders", orders.ListByStore)

		if d.Metrics != nil {
			r.With(middleware.RequireRole(utils.RoleAdmin)).Method(http.MethodGet, "/metrics", d.Metrics.Handler())
		}
	})

	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				logger.FromCtx(r.Context()).Error("health check failed", zap.Error(err))
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
