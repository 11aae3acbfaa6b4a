package httpclient

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-level rate limiting.
//
// The limiter sits between the retry loop and the adapter, so every
// attempt, retries included, takes a token.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	// Values below 1 are raised to 1.
	Burst int

	// WaitOnLimit determines behavior when the limit is hit.
	// If true, calls wait for a token (respecting the context deadline).
	// If false, calls fail immediately with a NetworkError wrapping
	// ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is wrapped by the NetworkError returned when a call is
// rejected by the client rate limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiterStats provides visibility into rate limiter state.
type RateLimiterStats struct {
	Limit           float64
	Burst           int
	TokensAvailable float64
}

// rateLimitAdapter gates an Adapter behind a token bucket.
type rateLimitAdapter struct {
	next    Adapter
	limiter *rate.Limiter
	wait    bool
}

// newRateLimitAdapter wraps next, or returns it unchanged when the
// configured rate is not positive.
func newRateLimitAdapter(next Adapter, cfg RateLimitConfig) Adapter {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &rateLimitAdapter{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		wait:    cfg.WaitOnLimit,
	}
}

func (a *rateLimitAdapter) acquire(ctx context.Context) error {
	if !a.wait {
		if !a.limiter.Allow() {
			return NewNetworkError(ErrRateLimited)
		}
		return nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait fails without blocking when the deadline is closer than the
		// next token.
		return NewNetworkError(errors.Join(ErrRateLimited, err))
	}
	return nil
}

// Request implements Adapter.
func (a *rateLimitAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	return a.next.Request(ctx, cfg)
}

// Upload implements Uploader when the wrapped adapter does.
func (a *rateLimitAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	up, ok := a.next.(Uploader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	return up.Upload(ctx, cfg, body)
}

// Download implements Downloader when the wrapped adapter does.
func (a *rateLimitAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	down, ok := a.next.(Downloader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	return down.Download(ctx, cfg, w, onProgress)
}

// Stats returns the current limiter state.
func (a *rateLimitAdapter) Stats() RateLimiterStats {
	return RateLimiterStats{
		Limit:           float64(a.limiter.Limit()),
		Burst:           a.limiter.Burst(),
		TokensAvailable: a.limiter.TokensAt(time.Now()),
	}
}
