package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"workline/cmd/internal/db"
)

// NewDBPool applies migrations when enabled, then opens and pings the shared pool.
func NewDBPool(ctx context.Context, cfg Config, log *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.DBAutoMigrate {
		err := db.Migrate(ctx, cfg.DatabaseURL, cfg.DBSchema, "up")
		switch {
		case errors.Is(err, db.ErrNoChange):
			log.Info("db.migrate.nochange", "schema", cfg.DBSchema)
		case err != nil:
			return nil, err
		default:
			log.Info("db.migrate.ok", "schema", cfg.DBSchema)
		}
	}

	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	})
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
