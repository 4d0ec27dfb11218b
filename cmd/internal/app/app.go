// Package app wires the PixelPact server runtime: config, logging, the
// redemption ledger, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pixelpact/cmd/internal/api"
	"pixelpact/cmd/internal/auth/session"
	"pixelpact/cmd/internal/invite"
	"pixelpact/cmd/internal/ledger"
	"pixelpact/cmd/internal/realtime"
	"pixelpact/cmd/internal/rooms"
	"pixelpact/cmd/security/token"
)

// App owns the server's long-lived resources.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	ledger  ledger.Ledger
	janitor *Janitor
	hub     *realtime.Hub
	handler http.Handler
}

// New builds a fully wired App. Resources opened before a failure are closed.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	secret, err := token.ParseSecret(cfg.Secret, token.MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		a.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled", "schema", cfg.DBSchema)
	}

	a.ledger, err = openLedger(ctx, cfg, a.pool, log)
	if err != nil {
		return nil, err
	}
	a.janitor = NewJanitor(a.ledger, log, metrics, cfg.LedgerRetention, cfg.LedgerPruneInterval)

	codec, err := invite.NewCodec(secret, invite.WithTTL(cfg.InviteTTL), invite.WithIssuer(cfg.InviteIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: invite codec: %w", ErrConfig, err)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: session: %w", ErrConfig, err)
	}
	if sessCfg.PasetoV4SecretKeyHex == "" {
		if sessCfg.PasetoV4SecretKeyHex, err = session.DeriveSecretKeyHex(secret); err != nil {
			return nil, err
		}
	}
	sessions, err := session.NewIssuer(sessCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: session issuer: %w", ErrConfig, err)
	}

	inviteMetrics, err := invite.NewMetrics(metrics.Registry())
	if err != nil {
		return nil, err
	}
	invites, err := invite.NewService(codec, a.ledger, sessions,
		invite.WithBaseURL(cfg.PublicOrigin),
		invite.WithMetrics(inviteMetrics),
		invite.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invite service: %w", ErrConfig, err)
	}

	roomStore, err := a.openRooms(ctx)
	if err != nil {
		return nil, err
	}

	apiHandler, err := api.NewHandler(log, a.apiConfig(), invites, sessions, roomStore)
	if err != nil {
		return nil, err
	}

	wsMetrics, err := realtime.NewMetrics(metrics.Registry())
	if err != nil {
		return nil, err
	}
	a.hub = realtime.NewHub(log)
	ws, err := realtime.NewWSGateway(log, a.hub, apiHandler, realtime.Config{
		AllowedOrigins: cfg.WSAllowedOrigins,
		OriginRequired: cfg.WSOriginRequired,
	}, realtime.WithMetrics(wsMetrics))
	if err != nil {
		return nil, err
	}

	a.handler = newRouter(routes{
		log:     log,
		api:     apiHandler,
		ws:      ws,
		metrics: metrics.Handler(),
		ready:   a.readiness,
	})
	return a, nil
}

func (a *App) openRooms(ctx context.Context) (rooms.Store, error) {
	if a.pool == nil {
		a.log.Info("rooms.store.memory")
		return rooms.NewMemory(), nil
	}
	st, err := rooms.NewPostgresStore(a.pool, rooms.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate rooms: %w", err)
	}
	a.log.Info("rooms.store.postgres", "schema", a.cfg.DBSchema)
	return st, nil
}

func (a *App) apiConfig() api.Config {
	c := api.DefaultConfig()
	c.TrustProxy = a.cfg.TrustProxy
	c.CookieSecure = a.cfg.CookieSecure
	c.CookieDomain = a.cfg.CookieDomain
	if ss, ok := api.ParseSameSite(a.cfg.CookieSameSite); ok {
		c.CookieSameSite = ss
	}
	c.RedeemPerMinute = a.cfg.RedeemPerMinute
	c.LedgerRetryAfter = a.cfg.RetryAfter
	return c
}

// Handler exposes the router for in-process tests.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down and releases every resource.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.closeResources()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.closeResources()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	// Upgraded connections are hijacked; Shutdown does not wait for them.
	srv.RegisterOnShutdown(a.hub.Close)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		a.janitor.Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"ledger", a.cfg.LedgerBackend,
		"db_enabled", a.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err, ok := <-errCh:
		if ok {
			a.log.Error("server.fail", "err", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return DefaultConfig().ShutdownTimeout
}

// closeResources releases the ledger before the pool it may depend on.
func (a *App) closeResources() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Error("ledger.close.fail", "err", err)
		}
		a.ledger = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
