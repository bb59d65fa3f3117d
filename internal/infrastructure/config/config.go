package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Status    StatusConfig
	Logging   LogConfig
	Worker    WorkerConfig
	Poll      PollConfig
	HTTP      HTTPConfig
	Socket    SocketConfig
	RateLimit RateLimitConfig
}

// StatusConfig holds status server configuration.
type StatusConfig struct {
	Enabled bool   `envconfig:"BOOSTER_STATUS_ENABLED" default:"false"`
	Host    string `envconfig:"BOOSTER_STATUS_HOST" default:"127.0.0.1"`
	Port    string `envconfig:"BOOSTER_STATUS_PORT" default:"9090"`
}

// Addr returns host:port.
func (s StatusConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// WorkerConfig holds worker host configuration.
type WorkerConfig struct {
	GraceMs   int `envconfig:"WORKER_GRACE_MS" default:"100"`
	InboxSize int `envconfig:"WORKER_INBOX_SIZE" default:"64"`
}

// Grace returns the close grace period.
func (w WorkerConfig) Grace() time.Duration {
	return time.Duration(w.GraceMs) * time.Millisecond
}

// PollConfig holds poll-client defaults.
type PollConfig struct {
	TimeoutMs   int `envconfig:"POLL_TIMEOUT_MS" default:"10000"`
	FrequencyMs int `envconfig:"POLL_FREQUENCY_MS" default:"30000"`
}

// HTTPConfig holds the HTTP capability configuration.
type HTTPConfig struct {
	UserAgent       string  `envconfig:"HTTP_USER_AGENT" default:"booster/1.0"`
	RateLimitRPS    float64 `envconfig:"HTTP_RATE_LIMIT_RPS" default:"0"`
	RetryMax        int     `envconfig:"HTTP_RETRY_MAX" default:"0"`
	BreakerFailures int     `envconfig:"HTTP_BREAKER_FAILURES" default:"10"`
}

// SocketConfig holds the socket capability configuration.
type SocketConfig struct {
	RetryMs            int `envconfig:"SOCKET_RETRY_MS" default:"10"`
	HandshakeTimeoutMs int `envconfig:"SOCKET_HANDSHAKE_TIMEOUT_MS" default:"10000"`
}

// HandshakeTimeout returns the handshake timeout.
func (s SocketConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMs) * time.Millisecond
}

// RateLimitConfig holds status server rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Status: StatusConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    "9090",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Worker: WorkerConfig{
			GraceMs:   100,
			InboxSize: 64,
		},
		Poll: PollConfig{
			TimeoutMs:   10000,
			FrequencyMs: 30000,
		},
		HTTP: HTTPConfig{
			UserAgent:       "booster/1.0",
			BreakerFailures: 10,
		},
		Socket: SocketConfig{
			RetryMs:            10,
			HandshakeTimeoutMs: 10000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
