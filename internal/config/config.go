// Package config handles application configuration.
//
// Service settings come from environment variables (a .env file is loaded
// first when present). Scoring parameters come from a YAML file layered over
// built-in defaults; see LoadScoring.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	Port      string `env:"PORT" env-default:"8080"`
	Env       string `env:"ENV" env-default:"development"` // "development", "staging", "production"
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"` // "json" or "text"

	// Audit trail (optional, uses in-memory if not set)
	DatabaseURL string `env:"DATABASE_URL"`

	// Location enrichment (optional)
	RedisAddr   string        `env:"REDIS_ADDR"`
	GeoIPCityDB string        `env:"GEOIP_CITY_DB"`
	GeoIPTTL    time.Duration `env:"GEOIP_CACHE_TTL" env-default:"24h"`

	// Model service (optional, scoring runs without an ML score if not set)
	MLEndpoint string        `env:"ML_ENDPOINT"`
	MLTimeout  time.Duration `env:"ML_TIMEOUT" env-default:"2s"`

	// Stream mode
	KafkaBroker       string `env:"KAFKA_BROKER"`
	KafkaRequestTopic string `env:"KAFKA_REQUEST_TOPIC" env-default:"transaction_requests"`
	KafkaVerdictTopic string `env:"KAFKA_VERDICT_TOPIC" env-default:"transaction_verdicts"`
	KafkaGroupID      string `env:"KAFKA_GROUP_ID" env-default:"ecml-scoring"`

	// Tracing (optional)
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Security
	RateLimitRPM   int      `env:"RATE_LIMIT_RPM" env-default:"600"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`

	// Scoring parameters file
	ScoringConfig string `env:"SCORING_CONFIG" env-default:"configs/scoring.yaml"`
}

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	if c.MLTimeout <= 0 {
		return fmt.Errorf("ML_TIMEOUT must be positive")
	}

	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}

	if c.KafkaBroker != "" && (c.KafkaRequestTopic == "" || c.KafkaVerdictTopic == "") {
		return fmt.Errorf("KAFKA_REQUEST_TOPIC and KAFKA_VERDICT_TOPIC are required with KAFKA_BROKER")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
