package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Environment is the deployment environment name (development, staging,
	// production). It namespaces the schema-cache key space so two
	// environments sharing a Redis instance never collide.
	Environment string

	Redis    RedisConfig
	Postgres PostgresConfig
	Cache    CacheConfig

	Observability ObservabilityConfig
}

// RedisConfig holds cache store connection configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int

	// Connection bootstrap: bounded retry with capped exponential backoff.
	// Exhausting the budget leaves the store in a degraded state instead of
	// failing process start.
	MaxConnectAttempts int
	MaxConnectBackoff  time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig holds backing-store connection configuration
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// CacheConfig holds per-layer TTL policy
type CacheConfig struct {
	SchemaTTL      time.Duration // tenant schema names; jittered
	TenantTTL      time.Duration // tenant snapshots; fixed
	PermissionTTL  time.Duration // user permission snapshots; fixed
	IdentityTTL    time.Duration // process-local resolved identities
	JitterFraction float64       // applied to SchemaTTL only

	// WarmupSchedule is a cron spec for periodic warm-up of the tenant and
	// schema layers; empty disables the scheduler.
	WarmupSchedule string

	// PositionProfilesPath optionally points at a YAML file overriding the
	// built-in position profile table.
	PositionProfilesPath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ILPI_ENVIRONMENT", "development"),
		Redis: RedisConfig{
			URL:                getEnv("ILPI_REDIS_URL", "redis://localhost:6379/0"),
			Password:           getEnv("ILPI_REDIS_PASSWORD", ""),
			DB:                 getEnvInt("ILPI_REDIS_DB", 0),
			PoolSize:           getEnvInt("ILPI_REDIS_POOL_SIZE", 10),
			MaxConnectAttempts: getEnvInt("ILPI_REDIS_MAX_CONNECT_ATTEMPTS", 5),
			MaxConnectBackoff:  getEnvDuration("ILPI_REDIS_MAX_CONNECT_BACKOFF", 10*time.Second),
			DialTimeout:        getEnvDuration("ILPI_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:        getEnvDuration("ILPI_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:       getEnvDuration("ILPI_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          getEnv("ILPI_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("ILPI_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("ILPI_POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Cache: CacheConfig{
			SchemaTTL:            getEnvDuration("ILPI_CACHE_SCHEMA_TTL", 30*time.Minute),
			TenantTTL:            getEnvDuration("ILPI_CACHE_TENANT_TTL", 15*time.Minute),
			PermissionTTL:        getEnvDuration("ILPI_CACHE_PERMISSION_TTL", 5*time.Minute),
			IdentityTTL:          getEnvDuration("ILPI_CACHE_IDENTITY_TTL", 30*time.Second),
			JitterFraction:       getEnvFloat("ILPI_CACHE_JITTER_FRACTION", 0.10),
			WarmupSchedule:       getEnv("ILPI_CACHE_WARMUP_SCHEDULE", ""),
			PositionProfilesPath: getEnv("ILPI_POSITION_PROFILES_PATH", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("ILPI_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("ILPI_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Redis.MaxConnectAttempts < 1 {
		return fmt.Errorf("redis max connect attempts must be at least 1")
	}
	if c.Cache.SchemaTTL <= 0 || c.Cache.TenantTTL <= 0 || c.Cache.PermissionTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.IdentityTTL <= 0 {
		return fmt.Errorf("identity TTL must be positive")
	}
	if c.Cache.JitterFraction < 0 || c.Cache.JitterFraction >= 1 {
		return fmt.Errorf("jitter fraction must be in [0, 1)")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
