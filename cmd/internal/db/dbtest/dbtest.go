// Package dbtest opens a throwaway, fully migrated Postgres schema for integration tests.
//
// Tests are opt-in via WORKLINE_DATABASE_URL. Outside CI an unreachable server skips the test.
package dbtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workline/cmd/internal/db"
)

// Open returns a pool and a freshly migrated schema; both are cleaned up with t.
func Open(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("WORKLINE_DATABASE_URL"))
	if dsn == "" {
		t.Skip("WORKLINE_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn, db.PoolConfig{MaxConns: 4})
	if err != nil {
		if skippable(err) {
			t.Skipf("postgres unreachable: %v", err)
		}
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	var b [6]byte
	_, _ = rand.Read(b[:])
	schema := "wl_test_" + hex.EncodeToString(b[:])

	if err := db.Migrate(ctx, dsn, schema, "up"); err != nil && !errors.Is(err, db.ErrNoChange) {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	return pool, schema
}

func skippable(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "dial tcp", "no such host", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
