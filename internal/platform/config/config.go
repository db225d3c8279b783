// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full runtime configuration for the reconciliation service.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" env-default:":8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Recon    ReconConfig
	Explain  ExplainConfig
}

// PostgresConfig configures the primary database connection.
type PostgresConfig struct {
	DSN          string        `env:"POSTGRES_DSN" env-required:"true"`
	MaxOpenConns int           `env:"POSTGRES_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `env:"POSTGRES_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `env:"POSTGRES_CONN_LIFETIME" env-default:"30m"`
}

// RedisConfig configures the shared explanation cache. An empty URL
// disables the shared level.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL" env-default:""`
	PoolSize     int           `env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
}

// KafkaConfig configures the audit event producer. Empty brokers
// disable audit publishing.
type KafkaConfig struct {
	Brokers Brokers `env:"KAFKA_BROKERS" env-default:""`
	Topic   string  `env:"KAFKA_AUDIT_TOPIC" env-default:"warden.reconciliation"`
}

// Brokers is a comma-separated broker list.
type Brokers []string

// SetValue implements cleanenv's setter for comma-separated lists.
func (b *Brokers) SetValue(s string) error {
	*b = nil
	if s == "" {
		return nil
	}
	for _, part := range splitAndTrim(s) {
		*b = append(*b, part)
	}
	return nil
}

// ReconConfig tunes the reconciliation workers.
type ReconConfig struct {
	Workers     int  `env:"RECON_WORKERS" env-default:"4"`
	LockEnabled bool `env:"RECON_LOCK_ENABLED" env-default:"true"`
}

// ExplainConfig tunes the explanation cache.
type ExplainConfig struct {
	TTL             time.Duration `env:"EXPLAIN_TTL" env-default:"1h"`
	RefreshInterval time.Duration `env:"EXPLAIN_REFRESH_INTERVAL" env-default:"5m"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}
