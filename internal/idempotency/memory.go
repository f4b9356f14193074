package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	status    string
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, nowFunc: time.Now}
}

// Claim implements Store. Expired entries are swept on the way.
func (s *MemoryStore) Claim(_ context.Context, key, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{status: StatusInProgress, expiresAt: now.Add(s.ttl)}
	return true, nil
}

// MarkDone implements Store.
func (s *MemoryStore) MarkDone(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.status = StatusDone
		s.entries[key] = e
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of remembered deliveries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
