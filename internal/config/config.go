package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/util"
)

var knownWeakSecrets = []string{
	"change-me", "secret", "admin", "admin123", "password",
}

type Config struct {
	Port                     int               `env:"PORT" envDefault:"3000"`
	Host                     string            `env:"HOST" envDefault:""`
	AppEnv                   string            `env:"APP_ENV" envDefault:"development"`
	StoreBackend             string            `env:"STORE_BACKEND" envDefault:"bolt"`
	DatabaseURL              string            `env:"DATABASE_URL"`
	BoltPath                 string            `env:"BOLT_PATH" envDefault:"data/licenses.db"`
	RedisURL                 string            `env:"REDIS_URL"`
	AdminPassword            string            `env:"ADMIN_PASSWORD"`
	AdminPasswordHash        string            `env:"ADMIN_PASSWORD_HASH"`
	OfflineToleranceHours    int               `env:"OFFLINE_TOLERANCE_HOURS" envDefault:"24"`
	ProductSecrets           map[string]string `env:"PRODUCT_SECRETS" envKeyValSeparator:":"`
	ProductNames             map[string]string `env:"PRODUCT_NAMES" envKeyValSeparator:":"`
	PublicRateLimitPerMin    int               `env:"PUBLIC_RATE_LIMIT_PER_MIN" envDefault:"60"`
	ReconcileIntervalMinutes int               `env:"RECONCILE_INTERVAL_MINUTES" envDefault:"0"`
	EnableTestEndpoints      bool              `env:"ENABLE_TEST_ENDPOINTS" envDefault:"false"`
	MetricsEnabled           bool              `env:"METRICS_ENABLED" envDefault:"true"`
	TrustProxyHeaders        bool              `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	StaticDir                string            `env:"STATIC_DIR" envDefault:"public"`
	LogLevel                 string            `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c *Config) OfflineTolerance() time.Duration {
	return time.Duration(c.OfflineToleranceHours) * time.Hour
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMinutes) * time.Minute
}

// Products builds the product registry from the defaults, overlaid with
// PRODUCT_SECRETS and PRODUCT_NAMES. Codes that only appear in the overrides
// are added as new products.
func (c *Config) Products() (*license.Registry, error) {
	byCode := make(map[string]*license.Product, len(DefaultProducts))
	order := make([]string, 0, len(DefaultProducts))
	upsert := func(code string) *license.Product {
		code = strings.ToUpper(strings.TrimSpace(code))
		if p, ok := byCode[code]; ok {
			return p
		}
		p := &license.Product{Code: code}
		byCode[code] = p
		order = append(order, code)
		return p
	}

	for _, d := range DefaultProducts {
		p := upsert(d.Code)
		p.Name = d.Name
		p.Secret = d.Secret
	}
	for code, secret := range c.ProductSecrets {
		upsert(code).Secret = strings.TrimSpace(secret)
	}
	for code, name := range c.ProductNames {
		upsert(code).Name = strings.TrimSpace(name)
	}

	products := make([]license.Product, 0, len(order))
	for _, code := range order {
		products = append(products, *byCode[code])
	}
	return license.NewRegistry(products...)
}

// UsesDefaultSecret reports the product codes still signed with a built-in
// secret.
func (c *Config) UsesDefaultSecret() []string {
	overrides := make(map[string]string, len(c.ProductSecrets))
	for code, secret := range c.ProductSecrets {
		overrides[strings.ToUpper(strings.TrimSpace(code))] = strings.TrimSpace(secret)
	}

	var codes []string
	for _, d := range DefaultProducts {
		override, ok := overrides[d.Code]
		if !ok || override == d.Secret {
			codes = append(codes, d.Code)
		}
	}
	return codes
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when STORE_BACKEND=%s", StoreBolt)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBolt, StorePostgres, c.StoreBackend)
	}

	if c.AdminPasswordHash != "" && !util.IsBcryptHash(c.AdminPasswordHash) {
		return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
	}
	if c.OfflineToleranceHours < 0 {
		return fmt.Errorf("OFFLINE_TOLERANCE_HOURS must not be negative")
	}
	if c.PublicRateLimitPerMin < 0 {
		return fmt.Errorf("PUBLIC_RATE_LIMIT_PER_MIN must not be negative")
	}
	if _, err := c.Products(); err != nil {
		return fmt.Errorf("invalid product configuration: %w", err)
	}

	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		log.Warn().Msg("neither ADMIN_PASSWORD nor ADMIN_PASSWORD_HASH is set: admin endpoints are disabled")
	}

	if isProduction {
		if c.AdminPassword != "" && c.AdminPasswordHash == "" {
			if err := validateSecret("ADMIN_PASSWORD", c.AdminPassword); err != nil {
				return err
			}
		}
		if codes := c.UsesDefaultSecret(); len(codes) > 0 {
			log.Warn().Strs("products", codes).Msg("built-in product secrets in use in production: set PRODUCT_SECRETS")
		}
		if c.EnableTestEndpoints {
			log.Warn().Msg("ENABLE_TEST_ENDPOINTS is on in production: key reset endpoints are publicly reachable")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 12 {
		return fmt.Errorf("%s must be at least 12 characters in production", name)
	}
	for _, weak := range knownWeakSecrets {
		if strings.EqualFold(value, weak) {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return &cfg, nil
}
