package httpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
)

// OtterCacheStore is a bounded in-process CacheStore backed by otter.
// Entries expire on otter's own per-entry TTL (1s granularity) and are
// evicted when capacity is reached.
type OtterCacheStore struct {
	cache otter.CacheWithVariableTTL[string, *CacheEntry]
}

var _ CacheStore = (*OtterCacheStore)(nil)

// NewOtterCacheStore creates a store holding at most capacity entries.
//
// Example:
//
//	store, err := httpclient.NewOtterCacheStore(10_000)
//	if err != nil {
//	    return err
//	}
//	client := httpclient.New(
//	    httpclient.WithCache(true),
//	    httpclient.WithCacheStore(store),
//	)
func NewOtterCacheStore(capacity int) (*OtterCacheStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("httpclient: otter cache capacity must be positive, got %d", capacity)
	}
	cache, err := otter.MustBuilder[string, *CacheEntry](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("httpclient: build otter cache: %w", err)
	}
	return &OtterCacheStore{cache: cache}, nil
}

func (s *OtterCacheStore) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	entry, ok := s.cache.Get(key)
	return entry, ok, nil
}

func (s *OtterCacheStore) Set(_ context.Context, key string, entry *CacheEntry, ttl time.Duration) error {
	s.cache.Set(key, entry, ttl)
	return nil
}

func (s *OtterCacheStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *OtterCacheStore) Clear(_ context.Context) error {
	s.cache.Clear()
	return nil
}

func (s *OtterCacheStore) Len(_ context.Context) (int, error) {
	return s.cache.Size(), nil
}

// Close stops otter's background goroutines.
func (s *OtterCacheStore) Close() {
	s.cache.Close()
}
