package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newBenchServer(b *testing.B) *httptest.Server {
	b.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"name":"widget","price":9.5}`))
	}))
	b.Cleanup(ts.Close)
	return ts
}

func newBenchClient(baseURL string, opts ...Option) *Client {
	base := []Option{
		WithPlatform(PlatformHTTP),
		WithBaseURL(baseURL),
		WithGlobalRegistry(NewRegistry()),
		WithRetryConfig(NoRetryConfig()),
	}
	return New(append(base, opts...)...)
}

// BenchmarkStandardClient is the net/http baseline.
func BenchmarkStandardClient(b *testing.B) {
	ts := newBenchServer(b)
	client := ts.Client()
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/items/1", nil)
		resp, err := client.Do(req)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func BenchmarkClient_Default(b *testing.B) {
	ts := newBenchServer(b)
	client := newBenchClient(ts.URL)
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := client.Get(ctx, "/items/1", nil); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkClient_WithBreaker(b *testing.B) {
	ts := newBenchServer(b)
	client := newBenchClient(ts.URL, WithCircuitBreaker(DefaultBreakerConfig()))
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := client.Get(ctx, "/items/1", nil); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkClient_WithRateLimit(b *testing.B) {
	ts := newBenchServer(b)
	client := newBenchClient(ts.URL, WithRateLimit(RateLimitConfig{
		RequestsPerSecond: 1e9,
		Burst:             1 << 20,
		WaitOnLimit:       true,
	}))
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := client.Get(ctx, "/items/1", nil); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkClient_CacheHit(b *testing.B) {
	client := New(
		WithAdapter(NewMockAdapter().StubJSON(200, `{"id":1}`)),
		WithBaseURL("https://api.example.com"),
		WithGlobalRegistry(NewRegistry()),
		WithCache(true),
		WithCacheTTL(time.Hour),
	)
	ctx := context.Background()
	if _, err := client.Get(ctx, "/items/1", nil); err != nil {
		b.Fatalf("unexpected error: %v", err)
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := client.Get(ctx, "/items/1", nil); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkClient_Dedupe(b *testing.B) {
	ts := newBenchServer(b)
	client := newBenchClient(ts.URL)
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = client.Request("Dedupe").Dedupe().Get(ctx, "/items/1")
			}()
		}
		wg.Wait()
	}
}

func BenchmarkClient_WithInterceptors(b *testing.B) {
	client := New(
		WithAdapter(NewMockAdapter().StubJSON(200, `{"id":1}`)),
		WithBaseURL("https://api.example.com"),
		WithGlobalRegistry(NewRegistry()),
	)
	client.UseRequestInterceptor(AuthBearerInterceptor("token"))
	client.UseRequestInterceptor(APIKeyInterceptor("X-Tenant", "acme"), WithPriority(PriorityHigh))
	client.UseResponseInterceptor(EnvelopeInterceptor(), WithGroup("envelope"))
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := client.Get(ctx, "/items/1", nil); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkClient_Decode(b *testing.B) {
	ts := newBenchServer(b)
	client := newBenchClient(ts.URL)
	ctx := context.Background()

	type item struct {
		ID    int     `json:"id"`
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}

	b.ReportAllocs()
	for b.Loop() {
		var out item
		if _, err := client.Request("GetItem").Decode(&out).Get(ctx, "/items/1"); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkRequestBuilder_Allocation(b *testing.B) {
	client := New(WithAdapter(NewMockAdapter()), WithGlobalRegistry(NewRegistry()))

	b.ReportAllocs()
	for b.Loop() {
		_, _ = client.Request("Build").
			Path("/users/{id}").
			PathParam("id", "42").
			Query("expand", "orders").
			Header("X-Trace", "1").
			BodyJSON(map[string]string{"name": "John"}).
			options(MethodPost, nil)
	}
}

func BenchmarkBuildSecureHeaders(b *testing.B) {
	body := map[string]any{"amount": 100, "currency": "EUR"}

	b.ReportAllocs()
	for b.Loop() {
		_ = BuildSecureHeaders(MethodPost, "https://api.example.com/payments", body)
	}
}
