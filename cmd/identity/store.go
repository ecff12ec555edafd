package identity

import (
	"context"
	"strings"
	"time"

	"workline/cmd/identity/ids"
)

// User is a workline account; its ID is the subject carried in session credentials.
type User struct {
	ID          string
	Email       string
	EmailNorm   string
	DisplayName *string
	CreatedAt   time.Time
}

// UserAuth is a User plus its stored password hash. Only the login path reads it.
type UserAuth struct {
	User
	PasswordHash string
}

// CreateUserInput carries an already-hashed password; the store never sees plaintext.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	DisplayName  *string
	Now          time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// Exists reports whether a user with id is present. It is a read-only lookup.
	Exists(ctx context.Context, userID string) (bool, error)
	Create(ctx context.Context, in CreateUserInput) (User, error)
	// GetAuthByEmail returns NotFoundError when no user has the (normalized) email.
	GetAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	// Get returns NotFoundError when the user is absent.
	Get(ctx context.Context, userID string) (User, error)
	// Delete returns NotFoundError when the user is absent.
	Delete(ctx context.Context, userID string) error
}

// prepareCreate validates in and returns the user row to insert.
func prepareCreate(op string, in CreateUserInput) (User, error) {
	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return User{}, invalid(op, "valid email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}

	var display *string
	if in.DisplayName != nil {
		if d := strings.TrimSpace(*in.DisplayName); d != "" {
			if len(d) > 128 {
				return User{}, invalid(op, "display name too long")
			}
			display = &d
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:          id,
		Email:       email,
		EmailNorm:   NormalizeEmail(email),
		DisplayName: display,
		CreatedAt:   now.UTC(),
	}, nil
}
