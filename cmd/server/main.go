package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-be/internal/cache"
	"marketplace-be/internal/config"
	"marketplace-be/internal/db"
	"marketplace-be/internal/events"
	"marketplace-be/internal/httpapi"
	"marketplace-be/internal/inventory"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/middleware"
	"marketplace-be/internal/order"
	"marketplace-be/internal/payment"
	"marketplace-be/internal/payment/webhook"
	"marketplace-be/internal/pricing"
	"marketplace-be/internal/product"
	"marketplace-be/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	serviceName     = "marketplace-be"
	shutdownTimeout = 15 * time.Second
	sweepInterval   = time.Minute
)

var (
	initDBFunc        = db.InitDB
	runMigrationsFunc = db.RunMigrations
	startServerFunc   = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := run(); err != nil {
		logger.L().Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	log := logger.L()

	if cfg.RunMigrations {
		if err := runMigrationsFunc(cfg); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	database := initDBFunc(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := newServer(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newServer wires every component and returns the HTTP handler plus a func
// releasing background workers and broker connections.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) (http.Handler, func(), error) {
	log := logger.L()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	calc, err := pricing.NewCalculator(cfg.TaxRate, cfg.FlatShippingRate)
	if err != nil {
		return nil, cleanup, fmt.Errorf("pricing: %w", err)
	}

	orderMetrics := metrics.NewOrderMetrics()

	idemCache, closeCache := newCache(ctx, cfg)
	closers = append(closers, closeCache)

	var publisher order.EventPublisher = events.NopPublisher{}
	var conn *amqp.Connection
	if cfg.RabbitMQURL != "" {
		conn, err = events.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Warn("event broker unavailable, events disabled", zap.Error(err))
		} else {
			closers = append(closers, func() { _ = conn.Close() })
			pub, err := events.NewPublisher(conn)
			if err != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("events publisher: %w", err)
			}
			closers = append(closers, func() { _ = pub.Close() })
			publisher = pub
		}
	}

	orderRepo := order.NewRepository(database, inventory.NewLedger())
	orderSvc := order.NewService(
		orderRepo,
		product.NewRepository(database),
		store.NewRepository(database),
		calc,
		order.WithEventPublisher(publisher),
		order.WithMetrics(orderMetrics),
	)

	if conn != nil {
		if err := events.StartPaymentConsumer(ctx, conn, orderSvc); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("payment consumer: %w", err)
		}
	}

	limiter := middleware.NewRateLimiter(sweepInterval)
	closers = append(closers, limiter.Stop)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, every access token will be rejected")
	}
	if cfg.PaymentWebhookToken == "" {
		log.Warn("PAYMENT_WEBHOOK_TOKEN is empty, payment webhook is unauthenticated")
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Orders:         orderSvc,
		Metrics:        orderMetrics,
		Cache:          idemCache,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Webhook:        webhook.NewHandler(orderSvc, payment.NewTokenVerifier(cfg.PaymentWebhookToken)),
		Limiter:        limiter,
		JWTSecret:      cfg.JWTSecret,
		CORSOrigin:     cfg.CORSOrigin,
		Ping:           database.PingContext,
	})

	return handler, cleanup, nil
}

func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, func()) {
	log := logger.L()

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, serviceName)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := rc.Ping(pingCtx)
		if err == nil {
			return rc, func() { _ = rc.Close() }
		}
		log.Warn("redis unavailable, using in-memory idempotency cache", zap.Error(err))
		_ = rc.Close()
	}

	mc := cache.NewMemoryCache(serviceName, sweepInterval)
	return mc, mc.Stop
}
