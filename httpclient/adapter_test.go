package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{in: "http", want: PlatformHTTP},
		{in: " HOST ", want: PlatformHost},
		{in: "Http", want: PlatformHTTP},
		{in: "custom", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown platform")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Platform
	}{
		{name: "given empty env, then http", env: nil, want: PlatformHTTP},
		{name: "given host runtime marker, then host", env: map[string]string{EnvHostRuntime: "1"}, want: PlatformHost},
		{
			name: "given explicit platform, then it wins over the marker",
			env:  map[string]string{EnvPlatform: "http", EnvHostRuntime: "1"},
			want: PlatformHTTP,
		},
		{name: "given explicit host, then host", env: map[string]string{EnvPlatform: "host"}, want: PlatformHost},
		{name: "given unknown explicit platform, then falls back to http", env: map[string]string{EnvPlatform: "wasm"}, want: PlatformHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlatform(envOf(tt.env)))
		})
	}
}

func TestNewAdapter(t *testing.T) {
	httpAdapter, err := NewAdapter(PlatformHTTP)
	require.NoError(t, err)
	assert.IsType(t, &HTTPAdapter{}, httpAdapter)

	hostAdapter, err := NewAdapter(PlatformHost)
	require.NoError(t, err)
	require.IsType(t, &HostAdapter{}, hostAdapter)
	assert.IsType(t, &fastHTTPBridge{}, hostAdapter.(*HostAdapter).bridge)

	_, err = NewAdapter(PlatformCustom)
	assert.ErrorContains(t, err, "no built-in adapter")
}

func TestResolveAdapter(t *testing.T) {
	custom := NewMockAdapter()

	tests := []struct {
		name         string
		opts         []Option
		wantPlatform Platform
		wantType     Adapter
	}{
		{
			name:         "given a custom adapter, then it is used as is",
			opts:         []Option{WithAdapter(custom), WithPlatform(PlatformHost)},
			wantPlatform: PlatformCustom,
			wantType:     custom,
		},
		{
			name:         "given an explicit platform, then it beats the environment",
			opts:         []Option{WithPlatform(PlatformHTTP), WithEnvLookup(envOf(map[string]string{EnvHostRuntime: "1"}))},
			wantPlatform: PlatformHTTP,
			wantType:     &HTTPAdapter{},
		},
		{
			name:         "given only the environment, then detects the platform",
			opts:         []Option{WithEnvLookup(envOf(map[string]string{EnvHostRuntime: "1"}))},
			wantPlatform: PlatformHost,
			wantType:     &HostAdapter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, platform, err := resolveAdapter(newConfig(tt.opts...))

			require.NoError(t, err)
			assert.Equal(t, tt.wantPlatform, platform)
			assert.IsType(t, tt.wantType, adapter)
		})
	}
}

func TestEncodeBody(t *testing.T) {
	tests := []struct {
		name            string
		method          string
		body            any
		wantBody        string
		wantContentType string
		wantNil         bool
	}{
		{name: "given nil body, then no reader", method: MethodPost, body: nil, wantNil: true},
		{name: "given GET with a body, then the body is dropped", method: MethodGet, body: "x", wantNil: true},
		{name: "given HEAD with a body, then the body is dropped", method: MethodHead, body: "x", wantNil: true},
		{name: "given bytes, then octet-stream", method: MethodPut, body: []byte{1, 2}, wantBody: "\x01\x02", wantContentType: "application/octet-stream"},
		{name: "given string, then text", method: MethodPost, body: "hi", wantBody: "hi", wantContentType: "text/plain; charset=utf-8"},
		{
			name:            "given form values, then urlencoded",
			method:          MethodPost,
			body:            url.Values{"a": {"1"}, "b": {"x y"}},
			wantBody:        "a=1&b=x+y",
			wantContentType: "application/x-www-form-urlencoded",
		},
		{name: "given a reader, then passes it through without a type", method: MethodPost, body: strings.NewReader("raw"), wantBody: "raw"},
		{
			name:            "given a struct, then JSON",
			method:          MethodPatch,
			body:            struct{ Name string }{Name: "Ann"},
			wantBody:        `{"Name":"Ann"}`,
			wantContentType: "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, contentType, err := encodeBody(tt.method, tt.body)
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, reader)
				return
			}
			data, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(data))
			assert.Equal(t, tt.wantContentType, contentType)
		})
	}
}

type failingJSON struct{}

func (failingJSON) MarshalJSON() ([]byte, error) { return nil, errors.New("cannot encode") }

func TestEncodeBody_Unencodable(t *testing.T) {
	_, _, err := encodeBody(MethodPost, failingJSON{})

	assert.ErrorIs(t, err, ErrInvalidBody)
	assert.ErrorContains(t, err, "cannot encode")
}

func TestAcceptFor(t *testing.T) {
	assert.Equal(t, "application/json", acceptFor(""))
	assert.Equal(t, "application/json", acceptFor(ResponseTypeJSON))
	assert.Equal(t, "text/plain", acceptFor(ResponseTypeText))
	assert.Empty(t, acceptFor(ResponseTypeBytes))
}

func TestFlattenHeader(t *testing.T) {
	h := http.Header{}
	h.Add("x-rate-limit", "10")
	h.Add("Vary", "Accept")
	h.Add("Vary", "Origin")

	assert.Equal(t, map[string]string{
		"X-Rate-Limit": "10",
		"Vary":         "Accept, Origin",
	}, flattenHeader(h))
}
