package httpclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisCachePrefix namespaces cache keys written by RedisCacheStore.
const DefaultRedisCachePrefix = "reqkit:cache:"

// RedisCacheStore shares cached responses between processes through Redis.
// Redis expires keys on the TTL passed to Set.
type RedisCacheStore struct {
	client redis.UniversalClient
	prefix string
}

var _ CacheStore = (*RedisCacheStore)(nil)

// redisEntry is the stored shape of a cached response. Cookies and the
// originating request config are not persisted.
type redisEntry struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Data       []byte            `json:"data,omitempty"`
	ErrMsg     string            `json:"errMsg,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// NewRedisCacheStore creates a store on top of an existing client.
// An empty prefix uses DefaultRedisCachePrefix.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	client := httpclient.New(
//	    httpclient.WithCache(true),
//	    httpclient.WithCacheStore(httpclient.NewRedisCacheStore(rdb, "")),
//	)
func NewRedisCacheStore(client redis.UniversalClient, prefix string) *RedisCacheStore {
	if prefix == "" {
		prefix = DefaultRedisCachePrefix
	}
	return &RedisCacheStore{client: client, prefix: prefix}
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("httpclient: redis cache get: %w", err)
	}

	var stored redisEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("httpclient: redis cache decode: %w", err)
	}

	return &CacheEntry{
		Response: &Response{
			StatusCode: stored.StatusCode,
			Headers:    stored.Headers,
			Data:       stored.Data,
			ErrMsg:     stored.ErrMsg,
		},
		ExpiresAt: stored.ExpiresAt,
	}, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error {
	stored := redisEntry{ExpiresAt: entry.ExpiresAt}
	if resp := entry.Response; resp != nil {
		stored.StatusCode = resp.StatusCode
		stored.Headers = resp.Headers
		stored.Data = resp.Data
		stored.ErrMsg = resp.ErrMsg
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("httpclient: redis cache encode: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("httpclient: redis cache set: %w", err)
	}
	return nil
}

func (s *RedisCacheStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("httpclient: redis cache delete: %w", err)
	}
	return nil
}

// Clear deletes every key under the store prefix.
func (s *RedisCacheStore) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("httpclient: redis cache clear: %w", err)
	}
	return nil
}

func (s *RedisCacheStore) Len(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisCacheStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("httpclient: redis cache scan: %w", err)
	}
	return keys, nil
}
