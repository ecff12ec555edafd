package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]UserAuth
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]UserAuth),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Exists(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.byID[strings.TrimSpace(userID)]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.EmailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = UserAuth{User: u, PasswordHash: in.PasswordHash}
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) GetAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetAuthByEmail"
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "email is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[norm]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ua, ok := s.byID[strings.TrimSpace(userID)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.Get", Resource: "user"}
	}
	return ua.User, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(userID)
	ua, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.Delete", Resource: "user"}
	}
	delete(s.byID, id)
	delete(s.byEmail, ua.EmailNorm)
	return nil
}
