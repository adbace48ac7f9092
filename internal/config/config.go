// Package config loads process configuration from STOREFRONT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/checkout"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "STOREFRONT"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	CatalogPath string `envconfig:"CATALOG_PATH"`
	Log         LogConfig
	Storage     StorageConfig
	Checkout    CheckoutConfig
	HTTP        HTTPConfig
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json" validate:"oneof=json console"`
}

type StorageConfig struct {
	Backend     string `envconfig:"BACKEND" default:"memory" validate:"oneof=memory sqlite postgres redis"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"storefront.db" validate:"required_if=Backend sqlite"`
	DatabaseURL string `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	// RedisURL is the primary store for the redis backend and, for any other
	// backend, enables a read-through cache in front of it.
	RedisURL       string        `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	RedisNamespace string        `envconfig:"REDIS_NAMESPACE" default:"storefront"`
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"30s"`
}

type CheckoutConfig struct {
	TaxRate       decimal.Decimal `envconfig:"TAX_RATE" default:"0.08"`
	ExpressRate   decimal.Decimal `envconfig:"EXPRESS_RATE" default:"9.99"`
	OvernightRate decimal.Decimal `envconfig:"OVERNIGHT_RATE" default:"19.99"`
}

type HTTPConfig struct {
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	WebSocket       bool          `envconfig:"WEBSOCKET" default:"true"`
}

var validate = validator.New()

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Checkout.validate()
}

func (c CheckoutConfig) validate() error {
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("invalid config: tax rate must be in [0, 1)")
	}
	if c.ExpressRate.IsNegative() || c.OvernightRate.IsNegative() {
		return errors.New("invalid config: shipping rates must not be negative")
	}
	return nil
}

// Rates is the shipping table. Standard shipping is always free.
func (c CheckoutConfig) Rates() checkout.Rates {
	return checkout.Rates{
		checkout.ShippingStandard:  decimal.Zero,
		checkout.ShippingExpress:   c.ExpressRate,
		checkout.ShippingOvernight: c.OvernightRate,
	}
}
