// Package db owns the workline Postgres schema: embedded migrations, the migration runner and the
// connection pool.
package db

import "embed"

// MigrationFS embeds the SQL migrations. Tables are created unqualified in the target schema.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
