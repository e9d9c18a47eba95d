package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Store ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Key generation bounds per admin request
const (
	MinGenerateCount = 1
	MaxGenerateCount = 100
)

// Default rate limiting
const (
	DefaultRateLimitPerMin  = 60
	AdminAuthFailuresPerMin = 5
)

// Request body cap for JSON endpoints
const MaxRequestBodyBytes = 64 << 10

// Store backends
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// DefaultProduct is a product shipped with the server. Secrets are
// placeholders and must be overridden in production via PRODUCT_SECRETS.
type DefaultProduct struct {
	Code   string
	Name   string
	Secret string
}

var DefaultProducts = []DefaultProduct{
	{Code: "BM01", Name: "BMS", Secret: "bms-license-secret-key-2024-v2"},
	{Code: "BL01", Name: "BLM", Secret: "blm-license-secret-key-2024-v2"},
	{Code: "VC01", Name: "VComm", Secret: "vcomm-license-secret-key-2024-v2"},
	{Code: "ES01", Name: "EyeSee", Secret: "eyesee-license-secret-key-2024-v2"},
}
