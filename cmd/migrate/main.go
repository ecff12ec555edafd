// Command migrate applies the embedded SQL migrations to WORKLINE_DATABASE_URL.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"workline/cmd/internal/db"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up or down")
		schema    = flag.String("schema", envOr("WORKLINE_DB_SCHEMA", db.DefaultSchema), "target schema")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dsn := strings.TrimSpace(os.Getenv("WORKLINE_DATABASE_URL"))
	if dsn == "" {
		log.Error("migrate.config", "err", "WORKLINE_DATABASE_URL is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := db.Migrate(ctx, dsn, *schema, *direction)
	switch {
	case errors.Is(err, db.ErrNoChange):
		log.Info("migrate.nochange", "schema", *schema, "direction", *direction)
	case err != nil:
		log.Error("migrate.fail", "schema", *schema, "direction", *direction, "err", err)
		cancel()
		os.Exit(1)
	default:
		log.Info("migrate.ok", "schema", *schema, "direction", *direction)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
