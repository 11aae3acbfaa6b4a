package httpclient

import (
	"context"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"
)

// Supported request methods.
const (
	MethodGet     = http.MethodGet
	MethodPost    = http.MethodPost
	MethodPut     = http.MethodPut
	MethodPatch   = http.MethodPatch
	MethodDelete  = http.MethodDelete
	MethodHead    = http.MethodHead
	MethodOptions = http.MethodOptions
)

// ResponseType hints how the adapter should treat the response body.
type ResponseType string

const (
	// ResponseTypeJSON decodes the body as JSON (default).
	ResponseTypeJSON ResponseType = "json"

	// ResponseTypeText keeps the body as text.
	ResponseTypeText ResponseType = "text"

	// ResponseTypeBytes keeps the body as raw bytes.
	ResponseTypeBytes ResponseType = "bytes"
)

// RequestConfig is the normalized, transport-agnostic description of one call.
//
// The client builds a RequestConfig from RequestOptions once per call.
// Request interceptors may return a modified copy; adapters must treat it as
// read-only.
type RequestConfig struct {
	// Method is the upper-case HTTP method.
	Method string

	// URL is the absolute URL, with the base URL joined and query
	// parameters serialized.
	URL string

	// Headers holds the request headers.
	Headers map[string]string

	// Body is the request payload. Adapters pass []byte, string, io.Reader
	// and url.Values through; any other value is encoded as JSON.
	Body any

	// Timeout is the per-call deadline enforced by the adapter.
	Timeout time.Duration

	// ResponseType hints how to treat the response body.
	ResponseType ResponseType

	// Credentials enables cookie handling for adapters that support it.
	Credentials bool

	// Metadata is an opaque bag carried through interceptors.
	Metadata map[string]any

	// RequestID identifies this call across logs, spans and errors.
	RequestID string

	// OperationName labels spans and logs.
	OperationName string
}

// Clone returns a copy with its own header and metadata maps.
func (c *RequestConfig) Clone() *RequestConfig {
	clone := *c
	clone.Headers = maps.Clone(c.Headers)
	if clone.Headers == nil {
		clone.Headers = make(map[string]string)
	}
	clone.Metadata = maps.Clone(c.Metadata)
	return &clone
}

// Header returns the value of the named header, matched case-insensitively.
func (c *RequestConfig) Header(key string) string {
	v, _ := lookupHeader(c.Headers, key)
	return v
}

// SetHeader sets a header, replacing any entry that differs only in case.
func (c *RequestConfig) SetHeader(key, value string) {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	setHeaderValue(c.Headers, key, value)
}

// DelHeader removes a header regardless of key case.
func (c *RequestConfig) DelHeader(key string) {
	deleteHeader(c.Headers, key)
}

func lookupHeader(h map[string]string, key string) (string, bool) {
	if v, ok := h[key]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func setHeaderValue(h map[string]string, key, value string) {
	deleteHeader(h, key)
	h[key] = value
}

func deleteHeader(h map[string]string, key string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
}

// CacheOptions controls per-call caching.
type CacheOptions struct {
	// Enabled turns caching on for this call. Only GET requests are cached.
	Enabled bool

	// TTL overrides the client default cache TTL.
	TTL time.Duration

	// ForceRefresh bypasses the cache read, de-duplication and cache write.
	ForceRefresh bool

	// Key overrides the default cache key derived from URL and body.
	Key func(cfg *RequestConfig) string
}

// Hooks are per-call lifecycle callbacks.
type Hooks struct {
	// BeforeRequest is called after the security check and before the
	// request interceptors run.
	BeforeRequest func(ctx context.Context, cfg *RequestConfig)

	// AfterResponse is called with the final response, including cache hits.
	AfterResponse func(ctx context.Context, resp *Response)

	// OnError is called exactly once with the final classified error.
	OnError func(ctx context.Context, err error)
}

// Progress reports transferred bytes for uploads and downloads.
// Total is -1 when unknown.
type Progress struct {
	Loaded int64
	Total  int64
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// RequestOptions is the caller-facing description of one call.
type RequestOptions struct {
	Method string

	// URL is absolute or relative to the client base URL.
	URL string

	// Params are serialized into the query string.
	Params map[string]any

	Headers      map[string]string
	Body         any
	Timeout      time.Duration
	ResponseType ResponseType
	Credentials  bool
	Metadata     map[string]any

	// Retry overrides the client retry policy for this call.
	Retry *RetryConfig

	// Cache enables and tunes response caching for this call.
	Cache *CacheOptions

	// Dedupe collapses concurrent identical GETs even when caching is off.
	Dedupe bool

	// Loading is a UI hint and is not used by the client.
	Loading bool

	Hooks Hooks

	// OperationName labels spans and logs.
	OperationName string

	// upload and download are set by the Upload and Download entry points.
	upload   *UploadOptions
	download *downloadTarget
}

// UploadOptions describes a multipart file upload.
type UploadOptions struct {
	Files      []FileUpload
	FormFields map[string]string
	OnProgress ProgressFunc
}

// downloadTarget describes where a download is streamed.
type downloadTarget struct {
	writer     io.Writer
	onProgress ProgressFunc
}
