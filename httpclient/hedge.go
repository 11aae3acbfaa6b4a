package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HedgeConfig configures hedged requests for tail latency.
//
// When an attempt has not completed within Delay, a duplicate is sent; the
// first successful reply wins and the others are cancelled. A failed
// attempt triggers the next hedge immediately. Only GET, HEAD and OPTIONS
// requests are hedged, and never ones with a streaming body.
//
// With a Tracker the delay adapts to the Percentile latency of each
// endpoint once enough samples exist, falling back to Delay before that.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithHedging(httpclient.HedgeConfig{
//	        Delay:     50 * time.Millisecond,
//	        MaxHedges: 1,
//	    }),
//	)
type HedgeConfig struct {
	// Delay is the wait before each hedge, and the fallback delay of an
	// adaptive config.
	Delay time.Duration

	// MaxHedges caps the duplicates per attempt. With 1, at most two
	// requests are in flight.
	MaxHedges int

	// Tracker enables adaptive delays.
	Tracker *LatencyTracker

	// Percentile is the tracked latency percentile used as the delay.
	// Default: 0.95.
	Percentile float64
}

// DefaultAdaptiveHedgeConfig hedges once at the per-endpoint P95, using
// 50ms until ten samples are recorded.
func DefaultAdaptiveHedgeConfig() HedgeConfig {
	return HedgeConfig{
		Delay:      50 * time.Millisecond,
		MaxHedges:  1,
		Tracker:    NewLatencyTracker(100, 10),
		Percentile: 0.95,
	}
}

// Enabled returns true if hedging is configured.
func (c HedgeConfig) Enabled() bool {
	return c.Delay > 0 && c.MaxHedges > 0
}

func (c HedgeConfig) delayFor(endpoint string) time.Duration {
	if c.Tracker == nil {
		return c.Delay
	}
	p := c.Percentile
	if p <= 0 {
		p = 0.95
	}
	if d, ok := c.Tracker.Percentile(endpoint, p); ok && d > 0 {
		return d
	}
	return c.Delay
}

// hedgeAdapter races duplicate requests against slow ones.
type hedgeAdapter struct {
	next   Adapter
	config HedgeConfig
}

var (
	_ Adapter    = (*hedgeAdapter)(nil)
	_ Uploader   = (*hedgeAdapter)(nil)
	_ Downloader = (*hedgeAdapter)(nil)
)

func newHedgeAdapter(next Adapter, cfg HedgeConfig) Adapter {
	if !cfg.Enabled() {
		return next
	}
	return &hedgeAdapter{next: next, config: cfg}
}

type hedgeResult struct {
	resp    *Response
	err     error
	elapsed time.Duration
}

func hedgeable(cfg *RequestConfig) bool {
	switch cfg.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	_, streaming := cfg.Body.(io.Reader)
	return !streaming
}

// Request implements Adapter.
func (a *hedgeAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	if !hedgeable(cfg) {
		return a.next.Request(ctx, cfg)
	}

	endpoint := endpointKey(cfg)
	delay := a.config.delayFor(endpoint)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := a.config.MaxHedges + 1
	results := make(chan hedgeResult, total)
	launch := func() {
		go func() {
			start := time.Now()
			resp, err := a.next.Request(ctx, cfg)
			results <- hedgeResult{resp: resp, err: err, elapsed: time.Since(start)}
		}()
	}

	launch()
	launched, received := 1, 0

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case r := <-results:
			received++
			if r.err == nil {
				if a.config.Tracker != nil {
					a.config.Tracker.Record(endpoint, r.elapsed)
				}
				return r.resp, nil
			}
			if launched < total {
				launch()
				launched++
				timer.Reset(delay)
			} else if received == launched {
				return nil, r.err
			}
		case <-timer.C:
			if launched < total {
				launch()
				launched++
				timer.Reset(delay)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Upload implements Uploader. Uploads are never hedged.
func (a *hedgeAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	up, ok := a.next.(Uploader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	return up.Upload(ctx, cfg, body)
}

// Download implements Downloader. Downloads are never hedged.
func (a *hedgeAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	down, ok := a.next.(Downloader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	return down.Download(ctx, cfg, w, onProgress)
}
