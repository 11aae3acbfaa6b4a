package httpclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitConfig_Default(t *testing.T) {
	t.Parallel()

	cfg := DefaultRateLimitConfig()

	assert.InDelta(t, float64(100), cfg.RequestsPerSecond, 0.0001)
	assert.Equal(t, 10, cfg.Burst)
	assert.True(t, cfg.WaitOnLimit)
}

func TestNewRateLimitAdapter(t *testing.T) {
	t.Parallel()

	next := NewMockAdapter()

	tests := []struct {
		name      string
		cfg       RateLimitConfig
		wantWrap  bool
		wantBurst int
	}{
		{name: "given zero rate, then returns next unchanged", cfg: RateLimitConfig{}, wantWrap: false},
		{name: "given negative rate, then returns next unchanged", cfg: RateLimitConfig{RequestsPerSecond: -1}, wantWrap: false},
		{name: "given rate and burst, then wraps", cfg: RateLimitConfig{RequestsPerSecond: 5, Burst: 3}, wantWrap: true, wantBurst: 3},
		{name: "given zero burst, then raises burst to 1", cfg: RateLimitConfig{RequestsPerSecond: 5}, wantWrap: true, wantBurst: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newRateLimitAdapter(next, tt.cfg)

			rl, wrapped := got.(*rateLimitAdapter)
			require.Equal(t, tt.wantWrap, wrapped)
			if wrapped {
				assert.Equal(t, tt.wantBurst, rl.Stats().Burst)
				assert.InDelta(t, tt.cfg.RequestsPerSecond, rl.Stats().Limit, 0.0001)
			} else {
				assert.Same(t, next, got)
			}
		})
	}
}

func TestRateLimit_AllowsWithinLimit(t *testing.T) {
	t.Parallel()

	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream, WithRateLimit(RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}))

	for range 5 {
		_, err := client.Get(context.Background(), "/test", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, upstream.RequestCount())

	stats, ok := client.RateLimiterStats()
	require.True(t, ok)
	assert.Equal(t, 10, stats.Burst)
	assert.Less(t, stats.TokensAvailable, float64(10))
}

func TestRateLimit_FailFast(t *testing.T) {
	t.Parallel()

	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream,
		WithRateLimit(RateLimitConfig{RequestsPerSecond: 0.1, Burst: 2}),
		WithRetryConfig(fastRetry(3)),
	)

	for range 2 {
		_, err := client.Get(context.Background(), "/test", nil)
		require.NoError(t, err)
	}

	_, err := client.Get(context.Background(), "/test", nil)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 2, upstream.RequestCount())
}

func TestRateLimit_WaitsForToken(t *testing.T) {
	t.Parallel()

	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream, WithRateLimit(RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             1,
		WaitOnLimit:       true,
	}))

	start := time.Now()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), "/test", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// One token up front, then one every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, upstream.RequestCount())
}

func TestRateLimit_DeadlineShorterThanWait(t *testing.T) {
	t.Parallel()

	upstream := NewMockAdapter().StubJSON(200, `{}`)
	client := newTestClient(upstream, WithRateLimit(RateLimitConfig{
		RequestsPerSecond: 0.5,
		Burst:             1,
		WaitOnLimit:       true,
	}))

	_, err := client.Get(context.Background(), "/first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = client.Get(ctx, "/second", nil)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, time.Since(start), time.Second, "fails without waiting for the token")
	assert.Equal(t, 1, upstream.RequestCount())
}

func TestRateLimit_StatsWithoutLimiter(t *testing.T) {
	t.Parallel()

	client := newTestClient(NewMockAdapter())

	_, ok := client.RateLimiterStats()

	assert.False(t, ok)
}
