package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultTaxRate        = "0.18"
	defaultShippingRate   = "50.00"
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCORSOrigin     = "http://localhost:3000"
	defaultAppPort        = "8080"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	JWTSecret           string
	PaymentWebhookToken string
	CORSOrigin          string

	TaxRate          decimal.Decimal
	FlatShippingRate decimal.Decimal

	RunMigrations  bool
	RedisAddr      string
	RabbitMQURL    string
	IdempotencyTTL time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:              os.Getenv("DB_HOST"),
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBName:              os.Getenv("DB_NAME"),
		DBPort:              os.Getenv("DB_PORT"),
		AppPort:             getEnv("APP_PORT", defaultAppPort),
		AppEnv:              os.Getenv("APP_ENV"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		PaymentWebhookToken: os.Getenv("PAYMENT_WEBHOOK_TOKEN"),
		CORSOrigin:          getEnv("CORS_ORIGIN", defaultCORSOrigin),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	var err error
	if cfg.TaxRate, err = getDecimal("TAX_RATE", defaultTaxRate); err != nil {
		log.Fatalf("invalid TAX_RATE: %v", err)
	}
	if cfg.FlatShippingRate, err = getDecimal("FLAT_SHIPPING_RATE", defaultShippingRate); err != nil {
		log.Fatalf("invalid FLAT_SHIPPING_RATE: %v", err)
	}
	if cfg.RunMigrations, err = getBool("RUN_MIGRATIONS", true); err != nil {
		log.Fatalf("invalid RUN_MIGRATIONS: %v", err)
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		log.Fatalf("invalid IDEMPOTENCY_TTL: %v", err)
	}

	return cfg
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	return decimal.NewFromString(getEnv(key, fallback))
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
