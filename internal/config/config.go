// Package config loads refgrid's settings from environment variables with
// sensible defaults and validates them on startup so misconfiguration fails
// fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Reconcile ReconcileConfig
	Bulk      BulkConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Audit     AuditConfig
	Rate      RateLimitConfig
	Logging   LoggingConfig
	Schema    SchemaConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for
	// in-flight bulk submissions (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxUploadSize caps reconcile and bulk CSV uploads in bytes (default: 32MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"33554432"`
}

// GatewayConfig points at the legacy data service.
type GatewayConfig struct {
	// URL is the gateway endpoint (required)
	URL string `env:"GATEWAY_URL" required:"true"`

	// ClientID identifies this process to the gateway on every call
	ClientID string `env:"GATEWAY_CLIENT_ID" default:"refgrid"`

	// Delimiter is the single character separating command positions (default: |)
	Delimiter string `env:"GATEWAY_DELIMITER" default:"|"`

	// Timeout bounds one retrieve or submit call (default: 30s)
	Timeout time.Duration `env:"GATEWAY_TIMEOUT" default:"30s"`
}

// DelimiterRune returns the configured delimiter as a rune.
// Validate guarantees it is exactly one character.
func (c *GatewayConfig) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return 0
}

// ReconcileConfig tunes comparison of imported rows against server rows.
type ReconcileConfig struct {
	// Epsilon is the tolerance for numeric fields (default: 0.0001)
	Epsilon float64 `env:"RECONCILE_EPSILON" default:"0.0001"`

	// FoldCase compares alpha fields with Unicode case folding (default: false)
	FoldCase bool `env:"RECONCILE_FOLD_CASE" default:"false"`
}

// BulkConfig bounds concurrent bulk submissions.
type BulkConfig struct {
	// MaxConcurrent is the number of bulk payloads in flight at once (default: 2)
	MaxConcurrent int `env:"BULK_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a bulk apply waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"BULK_MAX_WAIT_TIME" default:"30s"`
}

// CacheConfig bounds the in-memory row views.
type CacheConfig struct {
	// MaxViews is the number of cached table views kept (default: 256)
	MaxViews int `env:"CACHE_MAX_VIEWS" default:"256"`

	// ViewTTL is how long a loaded view is served before it is fetched
	// again; 0 keeps views until evicted (default: 30m)
	ViewTTL time.Duration `env:"CACHE_VIEW_TTL" default:"30m"`
}

// DatabaseConfig holds the optional command log database.
// When URL is empty, commands are logged in memory only.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a command log database is configured.
func (c *DatabaseConfig) Enabled() bool { return c.URL != "" }

// AuditConfig holds command log retention settings.
type AuditConfig struct {
	// RetentionDays is how long command log entries are kept (default: 30)
	RetentionDays int `env:"AUDIT_RETENTION_DAYS" default:"30"`

	// CheckInterval is how often the retention job runs (default: 24h)
	CheckInterval time.Duration `env:"AUDIT_CHECK_INTERVAL" default:"24h"`

	// MemoryCapacity is the in-memory log size when no database is set (default: 1000)
	MemoryCapacity int `env:"AUDIT_MEMORY_CAPACITY" default:"1000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for reconcile and bulk endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SchemaConfig names extra table declarations loaded at startup.
type SchemaConfig struct {
	// File is a YAML file of additional tables (optional)
	File string `env:"SCHEMA_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
