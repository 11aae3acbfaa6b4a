package httpclient

import (
	"net/url"
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of call latencies per endpoint and
// answers percentile queries. Hedging uses it to derive its delay.
//
// The tracker is safe for concurrent use.
type LatencyTracker struct {
	mu         sync.RWMutex
	endpoints  map[string]*latencyWindow
	windowSize int
	minSamples int
}

// latencyWindow is a ring buffer of samples.
type latencyWindow struct {
	samples []time.Duration
	next    int
	filled  int
}

// NewLatencyTracker creates a tracker keeping windowSize samples per
// endpoint and answering percentiles once minSamples are recorded.
// Non-positive values default to 100 and 10.
func NewLatencyTracker(windowSize, minSamples int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 100
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &LatencyTracker{
		endpoints:  make(map[string]*latencyWindow),
		windowSize: windowSize,
		minSamples: min(minSamples, windowSize),
	}
}

// Record adds a sample for endpoint.
func (t *LatencyTracker) Record(endpoint string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.endpoints[endpoint]
	if !ok {
		w = &latencyWindow{samples: make([]time.Duration, t.windowSize)}
		t.endpoints[endpoint] = w
	}

	w.samples[w.next] = latency
	w.next = (w.next + 1) % len(w.samples)
	w.filled = min(w.filled+1, len(w.samples))
}

// Percentile returns the p-th percentile (0-1) latency of endpoint, or
// false while fewer than minSamples samples exist.
func (t *LatencyTracker) Percentile(endpoint string, p float64) (time.Duration, bool) {
	t.mu.RLock()
	w, ok := t.endpoints[endpoint]
	if !ok || w.filled < t.minSamples {
		t.mu.RUnlock()
		return 0, false
	}
	samples := slices.Clone(w.samples[:w.filled])
	t.mu.RUnlock()

	slices.Sort(samples)
	p = min(max(p, 0), 1)
	return samples[int(float64(len(samples)-1)*p)], true
}

// Count returns the number of samples held for endpoint.
func (t *LatencyTracker) Count(endpoint string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.endpoints[endpoint]; ok {
		return w.filled
	}
	return 0
}

// Reset drops all samples.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.endpoints)
}

// endpointKey groups calls by method, host and path.
func endpointKey(cfg *RequestConfig) string {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return cfg.Method + " " + cfg.URL
	}
	return cfg.Method + " " + u.Host + u.Path
}
