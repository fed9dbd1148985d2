package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.ClockBudget != 10*time.Minute || cfg.TickInterval != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReapAfter != 10*time.Minute || cfg.ReapInterval != time.Minute {
		t.Fatalf("unexpected reap defaults: %+v", cfg)
	}
	if !cfg.EmbeddedWorkers || cfg.WorkerCount != 0 || cfg.QueueKey != "arena:jobs" {
		t.Fatalf("unexpected worker defaults: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	isolate(t)
	t.Setenv("CLOCK_BUDGET", "3m")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("ALLOWED_ORIGINS", " example.com , , *.example.org ")
	t.Setenv("REDIS_URL", " redis://localhost:6379/0 ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClockBudget != 3*time.Minute || cfg.WorkerCount != 4 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Fatalf("origins = %q", cfg.AllowedOrigins)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("redis url not trimmed: %q", cfg.RedisURL)
	}
	if err := cfg.RequireWorkerBackends(); err == nil {
		t.Fatalf("expected DATABASE_URL to be required")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "arena.env")
	if err := os.WriteFile(path, []byte("TICK_INTERVAL=250ms\nQUEUE_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("QUEUE_KEY", "from-env")
	// godotenv does not override variables that are already set.
	t.Cleanup(func() { os.Unsetenv("TICK_INTERVAL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Fatalf("tick interval = %v", cfg.TickInterval)
	}
	if cfg.QueueKey != "from-env" {
		t.Fatalf("queue key = %q", cfg.QueueKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"CLOCK_BUDGET":    "0s",
		"TICK_INTERVAL":   "-1s",
		"WORKER_COUNT":    "-2",
		"WS_MESSAGE_RATE": "0",
		"WS_SEND_BUFFER":  "0",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			isolate(t)
			t.Setenv(k, v)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", k, v)
			}
		})
	}

	t.Run("unparseable", func(t *testing.T) {
		isolate(t)
		t.Setenv("CLOCK_BUDGET", "ten minutes")
		if _, err := Load(); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}
