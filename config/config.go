package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. VELOCITY_HTTP_ADDR.
const Prefix = "VELOCITY"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":9095" validate:"required"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	RateLimitRPS    float64       `envconfig:"RATE_LIMIT_RPS" default:"20" validate:"gt=0"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"40" validate:"gte=1"`

	// Infrastructure
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"data/velocity.db" validate:"required"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"` // empty disables the series cache
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0,lte=15"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"10m" validate:"gt=0"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`

	// Script execution
	ScriptMaxSteps uint64        `envconfig:"SCRIPT_MAX_STEPS" default:"10000000" validate:"gte=1000"`
	ScriptTimeout  time.Duration `envconfig:"SCRIPT_TIMEOUT" default:"2s" validate:"gt=0"`
	ComputeWorkers int           `envconfig:"COMPUTE_WORKERS" default:"0" validate:"gte=0"`

	// Custom indicator library seeded at startup (optional YAML file).
	LibraryPath string `envconfig:"LIBRARY_PATH"`

	// Velocity alerts are always logged; a URL also POSTs them there.
	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL" validate:"omitempty,url"`

	// Base32 TOTP secret guarding definition uploads; empty leaves them open.
	AdminTOTPSecret string `envconfig:"ADMIN_TOTP_SECRET"`
}

// Load reads configuration from VELOCITY_* environment variables with
// defaults from the struct tags, then validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CacheEnabled reports whether a Redis address was configured.
func (c *Config) CacheEnabled() bool { return c.RedisAddr != "" }
