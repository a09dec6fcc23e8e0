// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	LockBackendRedis = "redis"
	LockBackendLocal = "local"

	NumeratorStrict = "strict"
	NumeratorCached = "cached"
)

// Config holds runtime configuration shared by the server and the worker.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppPort         int           `envconfig:"APP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	LockBackend string        `envconfig:"LOCK_BACKEND" default:"redis"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	LockWait    time.Duration `envconfig:"LOCK_WAIT" default:"2s"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"stockrecon"`

	NumeratorStrategy string `envconfig:"NUMERATOR_STRATEGY" default:"strict"`

	AuditCompressThreshold int `envconfig:"AUDIT_COMPRESS_THRESHOLD" default:"10240"`

	OutboxPollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	OutboxBatchSize     int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxRetries    int           `envconfig:"OUTBOX_MAX_RETRIES" default:"5"`
	EventsChannelPrefix string        `envconfig:"EVENTS_CHANNEL_PREFIX" default:"stockrecon"`
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and impossible sizes.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET must be set")
	}
	switch c.LockBackend {
	case LockBackendRedis, LockBackendLocal:
	default:
		return fmt.Errorf("config: LOCK_BACKEND must be redis or local, got %q", c.LockBackend)
	}
	switch c.NumeratorStrategy {
	case NumeratorStrict, NumeratorCached:
	default:
		return fmt.Errorf("config: NUMERATOR_STRATEGY must be strict or cached, got %q", c.NumeratorStrategy)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("config: LOCK_TTL must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("config: OUTBOX_BATCH_SIZE must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("config: DB_MIN_CONNS exceeds DB_MAX_CONNS")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.AppPort)
}
