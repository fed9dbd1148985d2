// Package builder opens the durable store and job queue selected by configuration.
package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/queue"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

type Deps struct {
	Store  store.Store
	Queue  queue.Queue
	Checks map[string]httpapi.Check

	// Durable is false when either backend is the in-process fallback.
	Durable bool

	closers []func() error
}

// New opens Postgres when DATABASE_URL is set (migrating first if enabled) and
// the Redis queue when REDIS_URL is set, falling back to in-process versions.
func New(cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	d := &Deps{Checks: map[string]httpapi.Check{}, Durable: true}

	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		d.Store = pg
		d.Checks["store"] = pg.Ping
		d.closers = append(d.closers, pg.Close)
	} else {
		obslog.L().Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		d.Store = store.NewMemory()
		d.Durable = false
	}

	if cfg.RedisURL != "" {
		rq, err := queue.NewRedis(cfg.RedisURL, cfg.QueueKey)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("init queue: %w", err)
		}
		d.Queue = rq
		d.Checks["queue"] = rq.Ping
		d.closers = append(d.closers, rq.Close)
	} else {
		if !cfg.EmbeddedWorkers {
			_ = d.Close()
			return nil, errors.New("EMBEDDED_WORKERS=false requires REDIS_URL")
		}
		obslog.L().Warn("queue_in_memory", zap.String("reason", "REDIS_URL not set"))
		mq := queue.NewMemory()
		d.Queue = mq
		d.Durable = false
		d.closers = append(d.closers, mq.Close)
	}
	return d, nil
}

// DrainQueue closes an in-process queue so embedded workers finish what is left
// and exit. Durable queues keep their backlog for the next start.
func (d *Deps) DrainQueue() bool {
	mq, ok := d.Queue.(*queue.Memory)
	if ok {
		_ = mq.Close()
	}
	return ok
}

// Healthy runs every check once.
func (d *Deps) Healthy(ctx context.Context) error {
	var errs []error
	for name, check := range d.Checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases backends in reverse open order.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
