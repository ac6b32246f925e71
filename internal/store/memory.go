package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps values in process memory. It backs tests and the
// "memory" driver; data does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	// For background cleanup of expired entries
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates an empty store. A positive ttl expires values that
// long after their last write.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]memoryEntry),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanupLoop(time.Minute)
	}
	return s
}

// Get returns a copy of the value stored under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value under key
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiresAt(s.now(), s.ttl),
	}
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the background cleanup. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Len returns the number of stored keys (for testing)
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
