package httpclient

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// ErrChaosInjected is the cause of failures injected by WithChaos.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// ChaosConfig injects faults into transport calls, to exercise retry,
// breaker and fallback paths in development and tests.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithChaos(httpclient.ChaosConfig{
//	        Latency:   200 * time.Millisecond,
//	        ErrorRate: 0.1,
//	    }),
//	)
type ChaosConfig struct {
	// Latency is added to every call.
	Latency time.Duration

	// LatencyJitter adds a random [0, LatencyJitter) on top of Latency.
	LatencyJitter time.Duration

	// ErrorRate is the probability (0.0-1.0) that a call fails with a
	// dial error wrapping ErrChaosInjected.
	ErrorRate float64

	// TimeoutRate is the probability (0.0-1.0) that a call waits out its
	// timeout and fails with context.DeadlineExceeded.
	TimeoutRate float64

	// StatusRate is the probability (0.0-1.0) that a call is answered
	// with Status instead of reaching the server.
	StatusRate float64

	// Status is the injected status code. Default: 503.
	Status int

	// Rand overrides the random source, for deterministic tests.
	Rand *rand.Rand
}

func (c ChaosConfig) float64() float64 {
	if c.Rand != nil {
		return c.Rand.Float64()
	}
	return rand.Float64() //nolint:gosec
}

func (c ChaosConfig) roll(p float64) bool {
	return p > 0 && c.float64() < p
}

// Delay returns the latency to add to one call.
func (c ChaosConfig) Delay() time.Duration {
	delay := c.Latency
	if c.LatencyJitter > 0 {
		delay += time.Duration(c.float64() * float64(c.LatencyJitter))
	}
	return delay
}

// chaosAdapter injects faults before delegating to next.
type chaosAdapter struct {
	next   Adapter
	config ChaosConfig
}

var (
	_ Adapter    = (*chaosAdapter)(nil)
	_ Uploader   = (*chaosAdapter)(nil)
	_ Downloader = (*chaosAdapter)(nil)
)

func newChaosAdapter(next Adapter, cfg ChaosConfig) Adapter {
	if cfg.Status == 0 {
		cfg.Status = http.StatusServiceUnavailable
	}
	return &chaosAdapter{next: next, config: cfg}
}

// inject returns a synthetic response or error, or neither to let the
// call through.
func (a *chaosAdapter) inject(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	if a.config.roll(a.config.TimeoutRate) {
		if cfg.Timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-time.After(cfg.Timeout):
			return nil, context.DeadlineExceeded
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.config.roll(a.config.ErrorRate) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
	}

	if delay := a.config.Delay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.config.roll(a.config.StatusRate) {
		return &Response{
			StatusCode: a.config.Status,
			Headers:    map[string]string{},
			ErrMsg:     http.StatusText(a.config.Status),
			Config:     cfg,
		}, nil
	}
	return nil, nil
}

// Request implements Adapter.
func (a *chaosAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	if resp, err := a.inject(ctx, cfg); resp != nil || err != nil {
		return resp, err
	}
	return a.next.Request(ctx, cfg)
}

// Upload implements Uploader.
func (a *chaosAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	up, ok := a.next.(Uploader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	if resp, err := a.inject(ctx, cfg); resp != nil || err != nil {
		return resp, err
	}
	return up.Upload(ctx, cfg, body)
}

// Download implements Downloader.
func (a *chaosAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	down, ok := a.next.(Downloader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	if resp, err := a.inject(ctx, cfg); resp != nil || err != nil {
		return resp, err
	}
	return down.Download(ctx, cfg, w, onProgress)
}
