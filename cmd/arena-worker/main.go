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
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// arena-worker drains the shared Redis queue into Postgres. It serves only
// /healthz and /metrics on LISTEN_ADDR.
func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireWorkerBackends(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("arena-worker"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	if err := run(cfg); err != nil {
		obslog.L().Error("worker_exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *appcfg.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	deps, err := builder.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			obslog.L().Warn("backend_close", zap.Error(err))
		}
	}()

	pool := worker.NewPool(deps.Queue, worker.NewApplier(deps.Store), worker.PoolConfig{
		Size:         cfg.WorkerCount,
		RestartDelay: cfg.WorkerRestartDelay,
	}, rec)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewRouter(&httpapi.RouterDeps{
			Metrics: metrics.Handler(reg),
			Checks:  deps.Checks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
