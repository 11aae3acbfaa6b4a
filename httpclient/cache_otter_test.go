package httpclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOtterStore(t *testing.T, capacity int) *OtterCacheStore {
	t.Helper()

	store, err := NewOtterCacheStore(capacity)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestNewOtterCacheStore_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		_, err := NewOtterCacheStore(capacity)
		assert.ErrorContains(t, err, "capacity must be positive")
	}
}

func TestOtterCacheStore(t *testing.T) {
	store := newOtterStore(t, 100)
	ctx := context.Background()

	entry := &CacheEntry{Response: &Response{StatusCode: 200, Data: []byte("a")}}
	require.NoError(t, store.Set(ctx, "a", entry, time.Minute))
	require.NoError(t, store.Set(ctx, "b", entry, time.Minute))

	got, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, entry, got)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Delete(ctx, "a"))
	_, ok, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx))
	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok)
}

func TestOtterCacheStore_BackingRequestCache(t *testing.T) {
	clock := newFakeClock()
	cache := NewRequestCache(newOtterStore(t, 100), clock)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", &Response{StatusCode: 200, Data: []byte("v")}, time.Hour))

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got.Data))

	// otter expiry is coarse, RequestCache still honors ExpiresAt.
	clock.Advance(time.Hour)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestClient_OtterCacheStore(t *testing.T) {
	upstream := NewMockAdapter().StubJSON(200, `{"sku":"A-1"}`)
	client := newTestClient(upstream,
		WithCache(true),
		WithCacheStore(newOtterStore(t, 10)),
	)
	ctx := context.Background()

	first, err := client.Get(ctx, "/products/A-1", nil)
	require.NoError(t, err)
	second, err := client.Get(ctx, "/products/A-1", nil)
	require.NoError(t, err)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, upstream.RequestCount())
}
