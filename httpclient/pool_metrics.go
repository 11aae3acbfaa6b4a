package httpclient

import (
	"net/http"
	"time"
)

// PoolStats is a snapshot of the HTTP adapter's connection pool settings.
//
// Example:
//
//	stats := client.PoolStats()
//	fmt.Printf("max idle per host: %d\n", stats.MaxIdleConnsPerHost)
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// MaxConnsPerHost is zero when unlimited.
	MaxConnsPerHost int

	IdleConnTimeout   time.Duration
	DisableKeepAlives bool
}

// PoolStats returns the pool settings of the HTTP adapter. Clients on
// another adapter report zero values.
func (c *Client) PoolStats() PoolStats {
	a, ok := c.base.(*HTTPAdapter)
	if !ok {
		return PoolStats{}
	}
	t, ok := a.client.Transport.(*http.Transport)
	if !ok {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        t.MaxIdleConns,
		MaxIdleConnsPerHost: t.MaxIdleConnsPerHost,
		MaxConnsPerHost:     t.MaxConnsPerHost,
		IdleConnTimeout:     t.IdleConnTimeout,
		DisableKeepAlives:   t.DisableKeepAlives,
	}
}

// RateLimiterStats returns the state of the client rate limiter. ok is
// false when the client was built without WithRateLimit.
func (c *Client) RateLimiterStats() (stats RateLimiterStats, ok bool) {
	rl, ok := c.adapter.(*rateLimitAdapter)
	if !ok {
		return RateLimiterStats{}, false
	}
	return rl.Stats(), true
}
