package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCurlCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RequestConfig
		want string
	}{
		{
			name: "given GET without headers, then omits the method",
			cfg:  &RequestConfig{Method: MethodGet, URL: "https://api.example.com/users"},
			want: `curl 'https://api.example.com/users'`,
		},
		{
			name: "given POST with JSON body, then includes method headers and data",
			cfg: &RequestConfig{
				Method:  MethodPost,
				URL:     "https://api.example.com/users",
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"name": "John"},
			},
			want: `curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'`,
		},
		{
			name: "given credentials, then masks them",
			cfg: &RequestConfig{
				Method: MethodGet,
				URL:    "https://api.example.com/me",
				Headers: map[string]string{
					"authorization": "Bearer secret",
					"X-API-Key":     "k-123",
					HeaderSignature: "deadbeef",
					"Accept":        "application/json",
				},
			},
			want: `curl 'https://api.example.com/me' -H 'Accept: application/json' -H 'X-API-Key: ***' ` +
				`-H '` + HeaderSignature + `: ***' -H 'authorization: ***'`,
		},
		{
			name: "given a quote in the body, then escapes it for the shell",
			cfg:  &RequestConfig{Method: MethodPut, URL: "https://api.example.com/notes/1", Body: "it's done"},
			want: `curl -X PUT 'https://api.example.com/notes/1' -d 'it'\''s done'`,
		},
		{
			name: "given a streaming body, then omits the data",
			cfg:  &RequestConfig{Method: MethodPost, URL: "https://api.example.com/blob", Body: strings.NewReader("stream")},
			want: `curl -X POST 'https://api.example.com/blob'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateCurlCommand(tt.cfg))
		})
	}
}

func TestRequestTracer_Info(t *testing.T) {
	base := time.Now()
	tracer := &requestTracer{
		dnsStart:   base,
		dnsEnd:     base.Add(5 * time.Millisecond),
		connStart:  base.Add(5 * time.Millisecond),
		connEnd:    base.Add(15 * time.Millisecond),
		reqWritten: base.Add(20 * time.Millisecond),
		firstByte:  base.Add(70 * time.Millisecond),
		totalStart: base,
		reused:     true,
	}

	info := tracer.info()

	assert.Equal(t, 5*time.Millisecond, info.DNSLookup)
	assert.Equal(t, 10*time.Millisecond, info.ConnTime)
	assert.Zero(t, info.TLSHandshake, "no handshake recorded")
	assert.Equal(t, 50*time.Millisecond, info.ServerTime)
	assert.GreaterOrEqual(t, info.TotalTime, time.Duration(0))
	assert.True(t, info.ConnReused)
	assert.Contains(t, info.String(), "dns=5ms conn=10ms tls=0s server=50ms")
}

func TestClient_DebugLogging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	client := New(
		WithPlatform(PlatformHTTP),
		WithBaseURL(server.URL),
		WithGlobalRegistry(NewRegistry()),
		WithLogger(logger),
		WithDebug(true),
	)

	_, err := client.Get(context.Background(), "/status", &RequestOptions{
		Headers: map[string]string{"Authorization": "Bearer hunter2"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"HTTP request"`)
	assert.Contains(t, out, `"message":"HTTP response"`)
	assert.Contains(t, out, `"message":"HTTP connection trace"`)
	assert.Contains(t, out, "curl")
	assert.NotContains(t, out, "hunter2")
}

func TestClient_DebugDisabled(t *testing.T) {
	var buf bytes.Buffer
	client := newTestClient(NewMockAdapter().StubJSON(200, `{}`),
		WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)),
	)

	_, err := client.Get(context.Background(), "/quiet", nil)

	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "HTTP request")
}
