// Package httpapi mounts the arena's HTTP surface: the WebSocket endpoint,
// health and metrics, and read-only game queries.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/park285/cheese-arena/internal/coordinator"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// GameReader is the read side of the durable store.
type GameReader interface {
	LoadGame(ctx context.Context, id string) (*domain.Game, error)
	ListInProgress(ctx context.Context) ([]domain.Game, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// RouterDeps groups what NewRouter wires together. Nil handlers are not mounted.
type RouterDeps struct {
	Coordinator *coordinator.Coordinator
	Games       GameReader
	WS          http.Handler
	Metrics     http.Handler
	Checks      map[string]Check
}

func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLog)
	if deps.Coordinator != nil {
		r.Use(withCoordinator(deps.Coordinator))
	}

	r.Get("/healthz", healthz(deps.Checks))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.WS != nil {
		r.Method(http.MethodGet, "/ws", deps.WS)
	}

	g := &gameHandler{games: deps.Games}
	r.Route("/v1/games", func(r chi.Router) {
		r.Get("/", g.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", g.Get)
			r.Get("/pgn", g.PGN)
		})
	})
	return r
}

func withCoordinator(c *coordinator.Coordinator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(coordinator.WithContext(r.Context(), c)))
		})
	}
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func healthz(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		if c, ok := coordinator.FromContext(r.Context()); ok {
			if _, err := c.Stats(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["coordinator"] = err.Error()
			} else {
				body["coordinator"] = "ok"
			}
		}
		writeJSON(w, status, body)
	}
}
