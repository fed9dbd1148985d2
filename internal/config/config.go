package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	QueueKey           string        `env:"QUEUE_KEY" envDefault:"arena:jobs"`
	WorkerCount        int           `env:"WORKER_COUNT" envDefault:"0"`
	EmbeddedWorkers    bool          `env:"EMBEDDED_WORKERS" envDefault:"true"`
	WorkerRestartDelay time.Duration `env:"WORKER_RESTART_DELAY" envDefault:"1s"`
	PublishBuffer      int           `env:"PUBLISH_BUFFER" envDefault:"1024"`

	ClockBudget  time.Duration `env:"CLOCK_BUDGET" envDefault:"10m"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	ReapAfter    time.Duration `env:"REAP_AFTER" envDefault:"10m"`
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`

	WSMessageRate  float64 `env:"WS_MESSAGE_RATE" envDefault:"20"`
	WSMessageBurst int     `env:"WS_MESSAGE_BURST" envDefault:"40"`
	WSSendBuffer   int     `env:"WS_SEND_BUFFER" envDefault:"64"`
	WSReadLimit    int64   `env:"WS_READ_LIMIT" envDefault:"65536"`

	MessageDir     string   `env:"MESSAGE_DIR"`
	MigrateOnStart bool     `env:"MIGRATE_ON_START" envDefault:"true"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the environment.
func Load() (*AppConfig, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	if c.ClockBudget <= 0 {
		return errors.New("CLOCK_BUDGET must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("TICK_INTERVAL must be positive")
	}
	if c.ReapInterval <= 0 || c.ReapAfter < 0 {
		return errors.New("REAP_INTERVAL must be positive and REAP_AFTER non-negative")
	}
	if c.WorkerCount < 0 {
		return errors.New("WORKER_COUNT must be >= 0")
	}
	if c.WSMessageRate <= 0 || c.WSMessageBurst <= 0 {
		return errors.New("WS_MESSAGE_RATE and WS_MESSAGE_BURST must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// RequireWorkerBackends checks the settings a standalone worker process needs.
func (c *AppConfig) RequireWorkerBackends() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
