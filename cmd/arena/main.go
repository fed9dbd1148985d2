package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-arena/internal/builder"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/coordinator"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/queue"
	"github.com/park285/cheese-arena/internal/worker"
	"github.com/park285/cheese-arena/internal/wsgate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 10 * time.Second
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("arena"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	if err := run(cfg); err != nil {
		obslog.L().Error("arena_exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *appcfg.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	cat, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}

	deps, err := builder.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			obslog.L().Warn("backend_close", zap.Error(err))
		}
	}()
	if !deps.Durable {
		obslog.L().Warn("arena_not_durable", zap.String("hint", "set DATABASE_URL and REDIS_URL"))
	}

	pub := queue.NewPublisher(deps.Queue, cfg.PublishBuffer, rec)
	coord := coordinator.New(coordinator.Config{
		Budget:       cfg.ClockBudget,
		TickInterval: cfg.TickInterval,
		ReapAfter:    cfg.ReapAfter,
		ReapInterval: cfg.ReapInterval,
	}, coordinator.Deps{
		Store:     deps.Store,
		Publisher: pub,
		Catalog:   cat,
		Recorder:  rec,
	})
	gate := wsgate.New(coord, wsgate.Options{
		OriginPatterns: cfg.AllowedOrigins,
		ReadLimit:      cfg.WSReadLimit,
		SendBuffer:     cfg.WSSendBuffer,
		MessageRate:    cfg.WSMessageRate,
		MessageBurst:   cfg.WSMessageBurst,
	}, rec)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewRouter(&httpapi.RouterDeps{
			Coordinator: coord,
			Games:       deps.Store,
			WS:          gate,
			Metrics:     metrics.Handler(reg),
			Checks:      deps.Checks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var pool *worker.Pool
	if cfg.EmbeddedWorkers {
		pool = worker.NewPool(deps.Queue, worker.NewApplier(deps.Store), worker.PoolConfig{
			Size:         cfg.WorkerCount,
			RestartDelay: cfg.WorkerRestartDelay,
		}, rec)
	}

	// Publisher and pool outlive the coordinator so the last moves reach the queue.
	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()

	g, gctx := errgroup.WithContext(ctx)
	coordDone := make(chan struct{})
	pubDone := make(chan struct{})

	g.Go(func() error {
		defer close(coordDone)
		return coord.Run(gctx)
	})
	g.Go(func() error {
		defer close(pubDone)
		return pub.Run(pubCtx)
	})
	if pool != nil {
		g.Go(func() error { return pool.Run(poolCtx) })
	}
	g.Go(func() error {
		obslog.L().Info("arena_listen", zap.String("addr", cfg.ListenAddr), zap.Bool("embedded_workers", pool != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obslog.L().Info("arena_shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			obslog.L().Warn("http_shutdown", zap.Error(err))
		}
		<-coordDone
		pubCancel()
		<-pubDone
		if pool != nil && deps.DrainQueue() {
			time.AfterFunc(drainTimeout, poolCancel)
		} else {
			poolCancel()
		}
		return nil
	})
	return g.Wait()
}
