// Package config holds the search service's environment configuration.
package config

import (
	"fmt"
	"time"

	"github.com/utafrali/StaySearchGo/pkg/config"
	"github.com/utafrali/StaySearchGo/pkg/database"
)

// Config is the full service configuration, loaded from the environment.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"search"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8086"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	PprofCIDRs     []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"booking"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"booking_secret"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"booking"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID    string   `env:"KAFKA_GROUP_ID" envDefault:"search-indexer"`
	ConsumerEnabled bool     `env:"CONSUMER_ENABLED" envDefault:"true"`
	DLQEnabled      bool     `env:"KAFKA_DLQ_ENABLED" envDefault:"true"`

	CacheEnabled bool          `env:"SEARCH_CACHE_ENABLED" envDefault:"true"`
	CacheTTL     time.Duration `env:"SEARCH_CACHE_TTL" envDefault:"30s"`

	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses and validates the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("SEARCH_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.ConsumerEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must be set when the consumer is enabled")
	}
	return nil
}

// Postgres returns the pool configuration for the primary store.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPassword
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSLMode
	return pg
}

// Redis returns the connection configuration for the index store.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
