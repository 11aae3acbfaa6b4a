package httpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the cache TTL used when neither the client nor the
// call sets one.
const DefaultCacheTTL = 5 * time.Minute

// GenerateKey derives a deterministic cache key from a URL and request body.
//
// Query parameters are sorted so that parameter order does not matter.
// The body is hashed: []byte and string bodies as-is, any other value by
// its JSON encoding. Equal inputs always yield equal keys.
//
// Example:
//
//	k1 := httpclient.GenerateKey("https://api.example.com/users?b=2&a=1", nil)
//	k2 := httpclient.GenerateKey("https://api.example.com/users?a=1&b=2", nil)
//	// k1 == k2
func GenerateKey(rawURL string, body any) string {
	keyParts := []string{normalizeURL(rawURL)}

	if b := bodyBytes(body); len(b) > 0 {
		bodyHash := sha256.Sum256(b)
		keyParts = append(keyParts, hex.EncodeToString(bodyHash[:]))
	}

	return hashString(strings.Join(keyParts, "|"))
}

func normalizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	queryParams := parsedURL.Query()
	sortedParams := make([]string, 0, len(queryParams))
	for key, values := range queryParams {
		values = append([]string(nil), values...)
		sort.Strings(values)
		for _, v := range values {
			sortedParams = append(sortedParams, key+"="+v)
		}
	}
	sort.Strings(sortedParams)

	return fmt.Sprintf("%s://%s%s?%s",
		parsedURL.Scheme, parsedURL.Host, parsedURL.Path, strings.Join(sortedParams, "&"))
}

// bodyBytes returns the bytes that identify a body for keying.
// Readers are not consumed and key as empty.
func bodyBytes(body any) []byte {
	switch b := body.(type) {
	case nil:
		return nil
	case []byte:
		return b
	case string:
		return []byte(b)
	case url.Values:
		return []byte(b.Encode())
	case io.Reader:
		return nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return []byte(fmt.Sprintf("%#v", b))
		}
		return encoded
	}
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	// Size is the number of live entries in the store.
	Size int

	Hits   int64
	Misses int64

	// HitRate is Hits / (Hits + Misses), or 0 before the first lookup.
	HitRate float64

	// Pending is the number of calls currently in flight.
	Pending int

	// DedupJoins counts callers that joined an in-flight call instead of
	// issuing their own.
	DedupJoins int64
}

// PendingRequest is an in-flight call that other callers can join.
type PendingRequest struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed when the call completes.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call completes or ctx is done. The returned
// response is a copy owned by the caller.
func (p *PendingRequest) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp.clone(), p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestCache stores successful GET responses with a TTL and collapses
// concurrent identical calls into one.
//
// All methods are safe for concurrent use.
type RequestCache struct {
	store  CacheStore
	clock  Clock
	logger zerolog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	pending map[string]*PendingRequest

	hits       atomic.Int64
	misses     atomic.Int64
	dedupJoins atomic.Int64

	// observe is called on hits, misses and joins for metrics.
	observe func(ctx context.Context, event cacheEvent)
}

type cacheEvent int

const (
	cacheHit cacheEvent = iota
	cacheMiss
	cacheJoin
)

// NewRequestCache creates a cache on top of store. A nil store uses a
// MemoryCacheStore; a nil clock uses wall time.
func NewRequestCache(store CacheStore, clock Clock) *RequestCache {
	if clock == nil {
		clock = realClock{}
	}
	if store == nil {
		store = NewMemoryCacheStore(clock)
	}
	return &RequestCache{
		store:   store,
		clock:   clock,
		logger:  zerolog.Nop(),
		pending: make(map[string]*PendingRequest),
	}
}

// Get returns a copy of the live cached response for key. Expired and
// missing entries report false. Store failures are logged and treated as
// a miss.
func (c *RequestCache) Get(ctx context.Context, key string) (*Response, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("cache read failed")
	}

	if ok && entry.expired(c.clock.Now()) {
		_ = c.store.Delete(ctx, key)
		ok = false
	}

	if !ok || entry.Response == nil {
		c.misses.Add(1)
		c.emit(ctx, cacheMiss)
		return nil, false
	}

	c.hits.Add(1)
	c.emit(ctx, cacheHit)

	resp := entry.Response.clone()
	resp.FromCache = true
	return resp, true
}

// Set stores a copy of resp under key for ttl. A non-positive ttl uses
// DefaultCacheTTL.
func (c *RequestCache) Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	stored := resp.clone()
	stored.FromCache = false

	entry := &CacheEntry{Response: stored, ExpiresAt: c.clock.Now().Add(ttl)}
	if err := c.store.Set(ctx, key, entry, ttl); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("cache write failed")
		return err
	}
	return nil
}

// Clear removes one entry.
func (c *RequestCache) Clear(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// ClearAll removes every entry and resets the counters. In-flight calls
// are not affected.
func (c *RequestCache) ClearAll(ctx context.Context) error {
	c.hits.Store(0)
	c.misses.Store(0)
	c.dedupJoins.Store(0)
	return c.store.Clear(ctx)
}

// HasPendingRequest reports whether a call for key is in flight.
func (c *RequestCache) HasPendingRequest(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// GetPendingRequest returns the in-flight call for key, if any.
func (c *RequestCache) GetPendingRequest(key string) (*PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	return p, ok
}

// Do runs fn once per key at a time. Callers arriving while a call for the
// same key is in flight wait for it and receive a copy of its result;
// shared reports whether this caller joined another caller's call.
//
// The pending entry is registered together with the in-flight call and
// removed when fn returns, so at most one entry per key exists at any
// time and shared is known before fn starts. A joining caller whose ctx
// ends stops waiting; the shared call continues on the leader's context.
func (c *RequestCache) Do(
	ctx context.Context,
	key string,
	fn func() (*Response, error),
) (resp *Response, shared bool, err error) {
	c.mu.Lock()
	_, shared = c.pending[key]
	var p *PendingRequest
	if !shared {
		p = &PendingRequest{done: make(chan struct{})}
		c.pending[key] = p
	}
	ch := c.flight.DoChan(key, func() (any, error) {
		defer func() {
			// No pending entry means no in-flight call for key.
			c.mu.Lock()
			c.flight.Forget(key)
			delete(c.pending, key)
			c.mu.Unlock()
			close(p.done)
		}()

		p.resp, p.err = fn()
		return p.resp, p.err
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		r, _ := res.Val.(*Response)
		if !shared {
			return r, false, res.Err
		}
		c.dedupJoins.Add(1)
		c.emit(ctx, cacheJoin)
		return r.clone(), true, res.Err
	case <-ctx.Done():
		return nil, shared, ctx.Err()
	}
}

// Stats returns a snapshot of cache activity.
func (c *RequestCache) Stats(ctx context.Context) CacheStats {
	size, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache size lookup failed")
	}

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Size:       size,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		Pending:    pending,
		DedupJoins: c.dedupJoins.Load(),
	}
}

func (c *RequestCache) emit(ctx context.Context, event cacheEvent) {
	if c.observe != nil {
		c.observe(ctx, event)
	}
}

// cacheKeyFor returns the cache key of a request config, honoring a
// caller-supplied key function.
func cacheKeyFor(cfg *RequestConfig, opts *CacheOptions) string {
	if opts != nil && opts.Key != nil {
		return opts.Key(cfg)
	}
	return GenerateKey(cfg.URL, cfg.Body)
}
