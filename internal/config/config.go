package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	WorkerCount         int    `env:"WORKER_COUNT,default=1"`
	SendIntervalSeconds int    `env:"SEND_INTERVAL_SECONDS,default=30"`
	UnsubscribeBaseURL  string `env:"UNSUBSCRIBE_BASE_URL"`
	TrackingBaseURL     string `env:"TRACKING_BASE_URL"`
	SendTimezone        string `env:"SEND_TIMEZONE,default=UTC"`
	SMTPHelloName       string `env:"SMTP_HELLO_NAME"`
	MetricsPort         int    `env:"METRICS_PORT,default=9090"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1, got %d", cfg.WorkerCount)
	}
	if cfg.SendIntervalSeconds < 0 {
		return nil, fmt.Errorf("SEND_INTERVAL_SECONDS must not be negative, got %d", cfg.SendIntervalSeconds)
	}
	return &cfg, nil
}

// SendInterval is the pacing delay each worker sleeps between sends.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalSeconds) * time.Second
}

// Location resolves the configured send timezone, used for Date headers and
// day boundaries in warmup accounting.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SendTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_TIMEZONE %q: %w", c.SendTimezone, err)
	}
	return loc, nil
}
