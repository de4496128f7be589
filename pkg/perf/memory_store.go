package perf

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

// MemoryStore is the fallback Store used when no external key-value
// store is available. Entries expire after the configured TTL; state does
// not survive process restart.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	metrics   Metrics
	expiresAt time.Time
}

// NewMemoryStore creates a memory store with the given TTL. A TTL of
// zero or less disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, modelID string, task model.TaskType) (Metrics, bool, error) {
	k := StoreKey(modelID, task)

	s.mu.RLock()
	entry, ok := s.entries[k]
	s.mu.RUnlock()
	if !ok {
		return Metrics{}, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
		return Metrics{}, false, nil
	}
	return entry.metrics, true, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, modelID string, task model.TaskType, m Metrics) error {
	entry := memoryEntry{metrics: m}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[StoreKey(modelID, task)] = entry
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
