// Package app wires the workline server runtime: config, logging, stores, HTTP routes and the
// notification push gateway.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"workline/cmd/identity"
	authapi "workline/cmd/internal/auth/api"
	"workline/cmd/internal/auth/session"
	"workline/cmd/internal/metrics"
	"workline/cmd/internal/notify"
	"workline/cmd/internal/realtime"
	"workline/cmd/security/password"
)

// App owns the server's long-lived dependencies.
type App struct {
	cfg Config
	log *slog.Logger

	dbPool *pgxpool.Pool

	metrics  *metrics.Metrics
	sessions *session.Service
	registry *realtime.Registry
	notes    *notify.Dispatcher
	gateway  *realtime.Gateway
	auth     *authapi.Handler
}

type stores struct {
	users     identity.Store
	revoked   session.RevocationStore
	notes     notify.Store
	onDeleted func(ctx context.Context, userID string)
}

// New constructs a fully wired App. DatabaseURL selects Postgres stores; otherwise everything is in memory.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	st, err := a.newStores(ctx)
	if err != nil {
		return nil, err
	}

	a.sessions, err = session.NewService(sessCfg, nil, st.revoked, st.users, session.WithMetrics(a.metrics))
	if err != nil {
		a.closePool()
		return nil, err
	}

	a.registry = realtime.NewRegistry(log, a.sessions, st.notes, realtime.WithRegistryMetrics(a.metrics))
	a.notes = notify.NewDispatcher(log, st.notes, a.registry, notify.WithMetrics(a.metrics))
	a.gateway = realtime.NewGateway(log, a.registry, cfg.gatewayConfig())

	opts := []authapi.HandlerOption{authapi.WithChannels(a.registry)}
	if st.onDeleted != nil {
		opts = append(opts, authapi.WithAccountDeletedHook(st.onDeleted))
	}
	a.auth, err = authapi.NewHandler(log, cfg.authConfig(), st.users, a.sessions, pwCfg, a.notes, opts...)
	if err != nil {
		a.closePool()
		return nil, err
	}

	return a, nil
}

func (a *App) newStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		notes := notify.NewMemoryStore()
		return stores{
			users:   identity.NewMemoryStore(),
			revoked: session.NewMemoryRevocationStore(),
			notes:   notes,
			// Postgres cascades notifications on user delete; memory mode purges explicitly.
			onDeleted: func(_ context.Context, userID string) { notes.DeleteUser(userID) },
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg, a.log)
	if err != nil {
		return stores{}, err
	}
	a.dbPool = pool

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return stores{}, err
	}
	revoked, err := session.NewPostgresRevocationStore(pool, a.cfg.DBSchema)
	if err != nil {
		a.closePool()
		return stores{}, err
	}
	notes, err := notify.NewPostgresStore(pool, a.cfg.DBSchema)
	if err != nil {
		a.closePool()
		return stores{}, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return stores{users: users, revoked: revoked, notes: notes}, nil
}

// Notifications exposes the dispatcher for in-process collaborators.
func (a *App) Notifications() *notify.Dispatcher { return a.notes }

// Run starts the HTTP server and the revocation pruner, and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go a.sessions.RunPruner(pruneCtx, a.cfg.RevocationPruneInterval, a.log)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbPool != nil,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/notifications",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closePool()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	closed := a.registry.CloseAll()
	a.log.Info("ws.shutdown", "closed", closed)

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.closePool()

	a.log.Info("server.stopped")
	return err
}

func (a *App) closePool() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
