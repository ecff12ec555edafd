package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the notifications table. The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("notify: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "workline"
	}
	if !pgIdentRE.MatchString(schema) {
		return nil, fmt.Errorf("notify: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, table: pgx.Identifier{schema, "notifications"}.Sanitize()}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.UserID, n.Title, n.Content, n.CreatedAt.UTC(),
	)
	return err
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, content, created_at
		   FROM `+s.table+`
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		userID, ClampLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
