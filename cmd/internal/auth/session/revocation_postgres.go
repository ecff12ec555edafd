package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRevocationStore implements RevocationStore over the revoked_tokens table.
// The pool is owned by the caller.
type PostgresRevocationStore struct {
	pool  *pgxpool.Pool
	table string
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresRevocationStore uses schema (default "workline").
func NewPostgresRevocationStore(pool *pgxpool.Pool, schema string) (*PostgresRevocationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "workline"
	}
	if !pgIdentRE.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresRevocationStore{
		pool:  pool,
		table: pgx.Identifier{schema, "revoked_tokens"}.Sanitize(),
	}, nil
}

func (s *PostgresRevocationStore) Revoke(ctx context.Context, r Revocation) error {
	if len(r.Fingerprint) != 64 {
		return fmt.Errorf("session: fingerprint must be 64 hex chars")
	}
	revokedAt := r.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (token_hash, expires_at, revoked_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (token_hash) DO NOTHING`,
		r.Fingerprint, r.ExpiresAt.UTC(), revokedAt.UTC(),
	)
	return err
}

func (s *PostgresRevocationStore) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE token_hash = $1)`,
		fingerprint,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresRevocationStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
