package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSlowServer answers after delay, or when the client goes away.
func newSlowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func newHTTPTestClient(baseURL string, opts ...Option) *Client {
	base := []Option{
		WithPlatform(PlatformHTTP),
		WithBaseURL(baseURL),
		WithGlobalRegistry(NewRegistry()),
		WithRetryConfig(NoRetryConfig()),
	}
	return New(append(base, opts...)...)
}

func TestTimeout_PerRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		serverDelay time.Duration
		timeout     time.Duration
		wantErr     bool
	}{
		{
			name:        "given call completes before the timeout, then succeeds",
			serverDelay: 10 * time.Millisecond,
			timeout:     time.Second,
		},
		{
			name:        "given call exceeds the timeout, then fails with TimeoutError",
			serverDelay: time.Second,
			timeout:     30 * time.Millisecond,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newSlowServer(t, tt.serverDelay)
			client := newHTTPTestClient(server.URL)

			_, err := client.Request("GetData").Timeout(tt.timeout).Get(context.Background(), "/data")

			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrTimeout)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			var timeoutErr *TimeoutError
			require.ErrorAs(t, err, &timeoutErr)
			assert.Equal(t, tt.timeout, timeoutErr.Timeout)
			assert.Equal(t, server.URL+"/data", timeoutErr.URL)
			assert.Equal(t, MethodGet, timeoutErr.Method)
		})
	}
}

func TestTimeout_ContextDeadlineWins(t *testing.T) {
	t.Parallel()

	server := newSlowServer(t, time.Second)
	client := newHTTPTestClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Request("GetData").Timeout(5*time.Second).Get(ctx, "/data")

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimeout_ClientDefault(t *testing.T) {
	t.Parallel()

	server := newSlowServer(t, time.Second)
	client := newHTTPTestClient(server.URL, WithTimeout(30*time.Millisecond))

	_, err := client.Get(context.Background(), "/data", nil)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)

	client.SetDefaultTimeout(2 * time.Second)
	_, err = client.Request("Shorter").Timeout(20*time.Millisecond).Get(context.Background(), "/data")

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout, "per-call timeout overrides the default")
}

func TestTimeout_CancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	server := newSlowServer(t, time.Second)
	client := newHTTPTestClient(server.URL, WithRetryConfig(fastRetry(3)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Get(ctx, "/data", nil)

	assert.ErrorIs(t, err, ErrCancel)
	assert.NotErrorIs(t, err, ErrTimeout)

	var cancelErr *CancelError
	require.ErrorAs(t, err, &cancelErr)
	assert.Zero(t, cancelErr.Retries, "cancellation is never retried")
}

func TestTimeout_NoTimeoutSucceeds(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newHTTPTestClient(server.URL)

	resp, err := client.Get(context.Background(), "/data", nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Data))
}
