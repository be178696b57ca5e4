package registration

import (
	"context"
	"sync"
	"time"
)

// Store is the key/value backend of the staging cache. Every entry carries its own TTL.
type Store interface {
	// Set stores value under key for ttl, replacing any previous value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key. ok is false when the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Delete removes key and reports whether this call removed a live entry.
	// Of several concurrent deletes of the same key at most one reports true.
	Delete(ctx context.Context, key string) (bool, error)
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty store driven by now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{m: make(map[string]entry), nowF: now}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, expiresAt: s.nowF().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	return e.value, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	delete(s.m, key)
	return ok, nil
}

// live returns the entry for key if it has not expired, dropping it otherwise. Caller holds mu.
func (s *MemoryStore) live(key string) (entry, bool) {
	e, ok := s.m[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, key)
		return entry{}, false
	}
	return e, true
}
