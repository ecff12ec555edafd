package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workline/cmd/identity"
	"workline/cmd/internal/db/dbtest"
)

func TestPostgresStore_InsertListRecent(t *testing.T) {
	pool, schema := dbtest.Open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	require.NoError(t, err)
	u, err := users.Create(ctx, identity.CreateUserInput{Email: "n@example.com", PasswordHash: "h"})
	require.NoError(t, err)

	s, err := NewPostgresStore(pool, schema)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	d := NewDispatcher(nil, s, nil, WithClock(steppingClock(base)))

	var last Notification
	for i := 0; i < 5; i++ {
		last, err = d.Create(ctx, u.ID, "title", "content")
		require.NoError(t, err)
	}

	got, err := d.GetRecent(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, last.ID, got[0].ID)
	require.True(t, got[0].CreatedAt.After(got[1].CreatedAt))

	// Unknown users violate the foreign key.
	_, err = d.Create(ctx, "01J00000000000000000000000", "t", "c")
	require.Error(t, err)

	// Deleting the user cascades.
	require.NoError(t, users.Delete(ctx, u.ID))
	got, err = d.GetRecent(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}
