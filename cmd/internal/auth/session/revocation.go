package session

import (
	"context"
	"sync"
	"time"
)

// Revocation is one revoked credential, keyed by the fingerprint of its raw value.
type Revocation struct {
	Fingerprint string
	// ExpiresAt is the credential's own expiry; the record is prunable after it.
	ExpiresAt time.Time
	RevokedAt time.Time
}

// RevocationStore is the append-only set of revoked credentials.
type RevocationStore interface {
	// Revoke records r. Revoking an already revoked fingerprint is a no-op.
	Revoke(ctx context.Context, r Revocation) error
	IsRevoked(ctx context.Context, fingerprint string) (bool, error)
	// PruneExpired deletes records whose ExpiresAt is before the cutoff and returns how many were removed.
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// MemoryRevocationStore is a process-local RevocationStore.
type MemoryRevocationStore struct {
	mu   sync.RWMutex
	rows map[string]Revocation
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{rows: make(map[string]Revocation)}
}

func (m *MemoryRevocationStore) Revoke(ctx context.Context, r Revocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.Fingerprint]; !ok {
		m.rows[r.Fingerprint] = r
	}
	return nil
}

func (m *MemoryRevocationStore) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.rows[fingerprint]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryRevocationStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for fp, r := range m.rows {
		if r.ExpiresAt.Before(before) {
			delete(m.rows, fp)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records.
func (m *MemoryRevocationStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
