package db

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/require"
)

func TestMigrate_RejectsBadInput(t *testing.T) {
	ctx := context.Background()

	require.ErrorContains(t, Migrate(ctx, "", "workline", "up"), "WORKLINE_DATABASE_URL")
	require.ErrorContains(t, Migrate(ctx, "postgres://localhost/x", "workline", "sideways"), "direction")
	require.ErrorContains(t, Migrate(ctx, "postgres://localhost/x", "bad-schema;", "up"), "invalid schema")
}

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://u:p@localhost:5432/app?sslmode=disable", "tenant_a")
	require.NoError(t, err)
	require.Contains(t, got, "search_path=tenant_a")
	require.Contains(t, got, "sslmode=disable")

	_, err = withSearchPath("mysql://localhost/app", "x")
	require.Error(t, err)
}

func TestMigrationFS_Paired(t *testing.T) {
	entries, err := fs.ReadDir(MigrationFS, "migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestMigrateResult(t *testing.T) {
	require.NoError(t, migrateResult("up", nil))
	require.ErrorIs(t, migrateResult("up", migrate.ErrNoChange), ErrNoChange)

	err := migrateResult("down", errors.New("dirty database version 3"))
	require.ErrorContains(t, err, "db: migrate down")
	require.False(t, errors.Is(err, ErrNoChange))
}
