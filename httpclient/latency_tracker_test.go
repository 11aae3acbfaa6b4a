package httpclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(values ...int) []time.Duration {
	out := make([]time.Duration, len(values))
	for i, v := range values {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestNewLatencyTracker_Defaults(t *testing.T) {
	tests := []struct {
		name           string
		windowSize     int
		minSamples     int
		wantWindowSize int
		wantMinSamples int
	}{
		{name: "given zero values, then uses defaults", wantWindowSize: 100, wantMinSamples: 10},
		{name: "given explicit values, then keeps them", windowSize: 20, minSamples: 4, wantWindowSize: 20, wantMinSamples: 4},
		{name: "given min samples above window, then clamps to window", windowSize: 5, minSamples: 50, wantWindowSize: 5, wantMinSamples: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewLatencyTracker(tt.windowSize, tt.minSamples)

			assert.Equal(t, tt.wantWindowSize, tracker.windowSize)
			assert.Equal(t, tt.wantMinSamples, tracker.minSamples)
		})
	}
}

func TestLatencyTracker_Percentile(t *testing.T) {
	tests := []struct {
		name       string
		windowSize int
		minSamples int
		samples    []time.Duration
		p          float64
		want       time.Duration
		wantOK     bool
	}{
		{
			name:       "given fewer samples than required, then not ready",
			windowSize: 100, minSamples: 10,
			samples: ms(10, 20),
			p:       0.95,
		},
		{
			name:       "given no samples, then not ready",
			windowSize: 100, minSamples: 1,
			p: 0.5,
		},
		{
			name:       "given p50 over unordered samples, then returns the median",
			windowSize: 100, minSamples: 3,
			samples: ms(50, 10, 40, 30, 20),
			p:       0.5,
			want:    30 * time.Millisecond,
			wantOK:  true,
		},
		{
			name:       "given p90 over ten samples, then returns the ninth",
			windowSize: 100, minSamples: 5,
			samples: ms(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
			p:       0.9,
			want:    90 * time.Millisecond,
			wantOK:  true,
		},
		{
			name:       "given p above 1, then clamps to the maximum",
			windowSize: 100, minSamples: 1,
			samples: ms(5, 15, 25),
			p:       3,
			want:    25 * time.Millisecond,
			wantOK:  true,
		},
		{
			name:       "given negative p, then clamps to the minimum",
			windowSize: 100, minSamples: 1,
			samples: ms(5, 15, 25),
			p:       -1,
			want:    5 * time.Millisecond,
			wantOK:  true,
		},
		{
			name:       "given a full window, then old samples are evicted",
			windowSize: 3, minSamples: 1,
			samples: ms(900, 800, 1, 2, 3),
			p:       1,
			want:    3 * time.Millisecond,
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewLatencyTracker(tt.windowSize, tt.minSamples)
			for _, s := range tt.samples {
				tracker.Record("GET api.example.com/users", s)
			}

			got, ok := tracker.Percentile("GET api.example.com/users", tt.p)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLatencyTracker_CountAndReset(t *testing.T) {
	tracker := NewLatencyTracker(3, 1)
	for _, s := range ms(1, 2, 3, 4, 5) {
		tracker.Record("a", s)
	}
	tracker.Record("b", time.Millisecond)

	assert.Equal(t, 3, tracker.Count("a"))
	assert.Equal(t, 1, tracker.Count("b"))
	assert.Zero(t, tracker.Count("c"))

	tracker.Reset()

	assert.Zero(t, tracker.Count("a"))
	_, ok := tracker.Percentile("b", 0.5)
	assert.False(t, ok)
}

func TestLatencyTracker_SeparatesEndpoints(t *testing.T) {
	tracker := NewLatencyTracker(100, 2)
	for _, s := range ms(10, 20, 30) {
		tracker.Record("GET api/users", s)
	}
	for _, s := range ms(100, 200, 300) {
		tracker.Record("GET api/orders", s)
	}

	users, ok := tracker.Percentile("GET api/users", 0.5)
	require.True(t, ok)
	orders, ok := tracker.Percentile("GET api/orders", 0.5)
	require.True(t, ok)

	assert.Equal(t, 20*time.Millisecond, users)
	assert.Equal(t, 200*time.Millisecond, orders)
}

func TestLatencyTracker_Concurrent(t *testing.T) {
	tracker := NewLatencyTracker(50, 1)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				tracker.Record("GET api/hot", time.Duration(i*100+j)*time.Microsecond)
				tracker.Percentile("GET api/hot", 0.95)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.Count("GET api/hot"))
}

func TestEndpointKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RequestConfig
		want string
	}{
		{
			name: "given absolute URL with query, then keeps method host and path",
			cfg:  &RequestConfig{Method: MethodGet, URL: "https://api.example.com/users/7?expand=true"},
			want: "GET api.example.com/users/7",
		},
		{
			name: "given unparsable URL, then falls back to the raw URL",
			cfg:  &RequestConfig{Method: MethodPost, URL: "://bad"},
			want: "POST ://bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointKey(tt.cfg))
		})
	}
}
