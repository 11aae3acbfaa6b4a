package httpclient

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for cache expiry.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CacheEntry is one cached response.
type CacheEntry struct {
	Response  *Response
	ExpiresAt time.Time
}

// expired reports whether the entry is no longer live at now.
func (e *CacheEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheStore is the storage behind RequestCache.
//
// Stores may evict entries on their own; RequestCache still checks
// ExpiresAt on every read, so a store is free to keep expired entries
// around.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryCacheStore is an unbounded map-backed CacheStore with lazy expiry.
// It is the default store.
type MemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	clock   Clock
}

var _ CacheStore = (*MemoryCacheStore)(nil)

// NewMemoryCacheStore creates an empty store. A nil clock uses wall time.
func NewMemoryCacheStore(clock Clock) *MemoryCacheStore {
	if clock == nil {
		clock = realClock{}
	}
	return &MemoryCacheStore{
		entries: make(map[string]*CacheEntry),
		clock:   clock,
	}
}

func (s *MemoryCacheStore) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if entry.expired(s.clock.Now()) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *MemoryCacheStore) Set(_ context.Context, key string, entry *CacheEntry, _ time.Duration) error {
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryCacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryCacheStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*CacheEntry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries, dropping expired ones.
func (s *MemoryCacheStore) Len(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
	return len(s.entries), nil
}
