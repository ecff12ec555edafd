package notify

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps notifications per user in insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]Notification)}
}

func (s *MemoryStore) Insert(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := slices.Clone(s.byUser[userID])
	s.mu.RUnlock()

	// Newest first; ties on CreatedAt fall back to id (ULIDs sort by time).
	slices.SortStableFunc(all, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DeleteUser drops every notification of userID.
func (s *MemoryStore) DeleteUser(userID string) {
	s.mu.Lock()
	delete(s.byUser, userID)
	s.mu.Unlock()
}
