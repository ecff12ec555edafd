package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workline/cmd/internal/db/dbtest"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	pool, schema := dbtest.Open(t)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u, err := s.Create(ctx, CreateUserInput{Email: "Grace@Example.com", PasswordHash: "$argon2id$stub"})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Create(ctx, CreateUserInput{Email: "grace@example.COM", PasswordHash: "x"})
	require.True(t, IsConflict(err), "got %v", err)

	auth, err := s.GetAuthByEmail(ctx, "GRACE@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, auth.ID)
	require.Equal(t, "$argon2id$stub", auth.PasswordHash)

	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	require.NoError(t, s.Delete(ctx, u.ID))
	require.True(t, IsNotFound(s.Delete(ctx, u.ID)))

	ok, err = s.Exists(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewPostgresStore_Options(t *testing.T) {
	_, err := NewPostgresStore(nil)
	require.Error(t, err)

	_, err = NewPostgresStore(nil, WithSchema("bad;schema"))
	require.ErrorContains(t, err, "invalid schema")
}
