package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Kuaidi100
	Key             string        `envconfig:"KUAIDI100_KEY"`
	Customer        string        `envconfig:"KUAIDI100_CUSTOMER"`
	NotificationURL string        `envconfig:"KUAIDI100_NOTIFICATION_URL"`
	Salt            string        `envconfig:"KUAIDI100_SALT"`
	SubscribeURL    string        `envconfig:"KUAIDI100_SUBSCRIBE_URL" default:"http://poll.kuaidi100.com/poll"`
	QueryURL        string        `envconfig:"KUAIDI100_QUERY_URL" default:"http://poll.kuaidi100.com/poll/query.do"`
	Timeout         time.Duration `envconfig:"KUAIDI100_TIMEOUT" default:"30s"`
	UseMock         bool          `envconfig:"KUAIDI100_USE_MOCK" default:"false"`

	// Notification replay guard; disabled when RedisURL is empty
	RedisURL  string        `envconfig:"REDIS_URL"`
	ReplayTTL time.Duration `envconfig:"REPLAY_TTL" default:"24h"`

	// Batch lookups
	BatchConcurrency int `envconfig:"BATCH_CONCURRENCY" default:"4"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"kuaidi100-bridge"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.BatchConcurrency < 1 {
		return nil, fmt.Errorf("loading config: BATCH_CONCURRENCY must be positive, got %d", cfg.BatchConcurrency)
	}
	return &cfg, nil
}

// Provider returns the configuration of the Kuaidi100 service.
func (c *Config) Provider() kuaidi100.Config {
	return kuaidi100.Config{
		Key:             c.Key,
		Customer:        c.Customer,
		NotificationURL: c.NotificationURL,
		Salt:            c.Salt,
		SubscribeURL:    c.SubscribeURL,
		QueryURL:        c.QueryURL,
		Timeout:         c.Timeout,
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("kuaidi100.mock", c.UseMock),
		attribute.Bool("replay.enabled", c.RedisURL != ""),
	}
}
