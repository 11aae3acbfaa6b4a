package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "checkout")
	require.NoError(t, err)
	ctx := context.Background()

	rec.Record(ctx, NewHTTPError(503, nil))
	rec.Record(ctx, NewHTTPError(503, nil))
	rec.Record(ctx, NewHTTPError(404, nil))
	rec.Record(ctx, NewTimeoutError(time.Second, nil))
	rec.Record(ctx, errors.New("plain"))
	rec.Record(ctx, nil)

	tests := []struct {
		kind, status string
		want         float64
	}{
		{kind: "http", status: "503", want: 2},
		{kind: "http", status: "404", want: 1},
		{kind: "timeout", status: "", want: 1},
		{kind: "other", status: "", want: 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, testutil.ToFloat64(rec.errors.WithLabelValues(tt.kind, tt.status)), 0,
			"kind=%s status=%s", tt.kind, tt.status)
	}
	assert.Equal(t, 4, testutil.CollectAndCount(rec.errors))
}

func TestNewPrometheusRecorder_ReusesRegisteredCounter(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusRecorder(reg, "svc")
	require.NoError(t, err)
	second, err := NewPrometheusRecorder(reg, "svc")
	require.NoError(t, err)

	first.Record(context.Background(), NewNetworkError(errors.New("reset")))

	assert.Same(t, first.errors, second.errors)
	assert.InDelta(t, 1, testutil.ToFloat64(second.errors.WithLabelValues("network", "")), 0)
}

func TestNewPrometheusRecorder_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svc",
		Subsystem: "http_client",
		Name:      "errors_total",
		Help:      "conflicting labels",
	}, []string{"other"}))

	_, err := NewPrometheusRecorder(reg, "svc")

	assert.Error(t, err)
}

func TestCacheCollector(t *testing.T) {
	cache := NewRequestCache(nil, newFakeClock())
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "a", &Response{StatusCode: 200}, time.Minute))
	cache.Get(ctx, "a")
	cache.Get(ctx, "a")
	cache.Get(ctx, "b")

	collector := NewCacheCollector(cache, "checkout", prometheus.Labels{"client": "payments"})

	expected := `
# HELP checkout_http_client_cache_entries Number of live cache entries.
# TYPE checkout_http_client_cache_entries gauge
checkout_http_client_cache_entries{client="payments"} 1
# HELP checkout_http_client_cache_hits_total Number of cache hits.
# TYPE checkout_http_client_cache_hits_total counter
checkout_http_client_cache_hits_total{client="payments"} 2
# HELP checkout_http_client_cache_misses_total Number of cache misses.
# TYPE checkout_http_client_cache_misses_total counter
checkout_http_client_cache_misses_total{client="payments"} 1
# HELP checkout_http_client_cache_pending_requests Number of in-flight de-duplicated calls.
# TYPE checkout_http_client_cache_pending_requests gauge
checkout_http_client_cache_pending_requests{client="payments"} 0
# HELP checkout_http_client_cache_dedup_joins_total Number of callers that joined an in-flight call.
# TYPE checkout_http_client_cache_dedup_joins_total counter
checkout_http_client_cache_dedup_joins_total{client="payments"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
}

func TestPrometheusHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "orders")
	require.NoError(t, err)

	client := newTestClient(NewMockAdapter().StubJSON(502, `{}`), WithErrorRecorder(rec))
	_, err = client.Get(context.Background(), "/orders", nil)
	require.Error(t, err)

	server := httptest.NewServer(PrometheusHandler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `orders_http_client_errors_total{kind="http",status="502"} 1`)
}
