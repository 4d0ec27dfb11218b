package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pixelpact/cmd/internal/api"
	"pixelpact/cmd/internal/ledger"
)

const readyTimeout = 2 * time.Second

// routes bundles what the router serves.
type routes struct {
	log     *slog.Logger
	api     *api.Handler
	ws      http.Handler
	metrics http.Handler
	ready   func(ctx context.Context) error
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(WithRequestLogging(rt.log))
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := rt.ready(ctx); err != nil {
				rt.log.Warn("readyz.not_ready", "err", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics)
	}
	if rt.ws != nil {
		r.Method(http.MethodGet, "/ws", rt.ws)
	}
	if rt.api != nil {
		rt.api.Mount(r)
	}
	return r
}

// readiness pings the ledger when it supports it, then the DB pool.
func (a *App) readiness(ctx context.Context) error {
	if p, ok := a.ledger.(ledger.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	if a.pool != nil {
		if err := PingDB(ctx, a.pool, readyTimeout); err != nil {
			return err
		}
	}
	return nil
}
