// Package config loads the demo server configuration.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/romshark/yamagiconf"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

type Config struct {
	Host     string `yaml:"host" env:"HOST" validate:"required"`
	Port     uint16 `yaml:"port" env:"PORT" validate:"required"`
	LogLevel string `yaml:"log-level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Metrics are served on a separate listener, disabled if Host is empty.
	Metrics Metrics `yaml:"metrics"`

	TLS      TLS      `yaml:"tls"`
	CSRF     CSRF     `yaml:"csrf"`
	Sessions Sessions `yaml:"sessions"`
	Events   Events   `yaml:"events"`
}

type Metrics struct {
	Host string `yaml:"host" env:"HOST_METRICS"`
	Port uint16 `yaml:"port" env:"PORT_METRICS"`
}

type TLS struct {
	CertFile string `yaml:"cert-file" env:"PATH_TLS_CERT" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key-file" env:"PATH_TLS_KEY" validate:"required_with=CertFile"`
}

type CSRF struct {
	// HashKey authenticates the double-submit cookie.
	HashKey string `yaml:"hash-key" env:"CSRF_HASH_KEY" validate:"min=32"`

	// Policy is the double-submit cookie policy.
	Policy string `yaml:"policy" validate:"oneof=strict lax none"`

	// HMACSecret enables masked HMAC tokens bound to the session
	// instead of the random token stored in it.
	HMACSecret string `yaml:"hmac-secret" env:"CSRF_HMAC_SECRET" validate:"omitempty,min=32"`
}

type Sessions struct {
	Backend string        `yaml:"backend" env:"SESSION_BACKEND" validate:"oneof=memory redis nats"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=1m"`

	// MemoryCapacity is the maximum number of sessions kept in memory.
	MemoryCapacity int `yaml:"memory-capacity" validate:"gte=0"`

	RedisAddr string `yaml:"redis-addr" env:"REDIS_ADDR" validate:"required_if=Backend redis"`

	NATSURL string `yaml:"nats-url" env:"NATS_URL" validate:"required_if=Backend nats"`

	// NATSEncryptionKey must be 16 bytes (AES-128).
	NATSEncryptionKey string `yaml:"nats-encryption-key" env:"SESSION_ENCRYPTION_KEY" validate:"required_if=Backend nats"`
}

// Events configures the broker rejected CSRF checks are published to.
type Events struct {
	Broker  string `yaml:"broker" env:"EVENTS_BROKER" validate:"oneof=none memory nats"`
	NATSURL string `yaml:"nats-url" env:"EVENTS_NATS_URL" validate:"required_if=Broker nats"`
}

// Load reads the YAML file at path. Environment variables
// take precedence over the values in the file.
func Load(path string) (*Config, error) {
	var c Config
	if err := yamagiconf.LoadFile(path, &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Environment overrides are applied after decoding, validate the result.
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &c, nil
}

// SlogLevel returns the log level as slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
