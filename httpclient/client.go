package httpclient

import (
	"context"
	"io"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client is a transport-agnostic HTTP client with interceptors, retry,
// response caching, request de-duplication and OpenTelemetry
// instrumentation.
//
// Create a Client using New():
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithServiceName("payment-service"),
//	    httpclient.WithCache(true),
//	)
//
//	user, err := httpclient.As[User](client.Get(ctx, "/users/1", nil))
//
// A Client is safe for concurrent use. Its defaults can be changed at
// runtime with the Set* methods; calls already in flight keep the values
// they started with.
type Client struct {
	// config holds the construction-time configuration.
	config *internalConfig

	// adapter is the transport wrapped in its decorators.
	adapter Adapter

	// base is the unwrapped adapter, used for capability checks.
	base Adapter

	platform     Platform
	cache        *RequestCache
	interceptors *Registry
	security     *SecurityInterceptor
	recorder     ErrorRecorder
	errors       *ErrorManager

	mu    sync.RWMutex
	state clientState
}

// clientState holds the defaults that can change after construction.
type clientState struct {
	baseURL         string
	defaultHeaders  map[string]string
	timeout         time.Duration
	retry           RetryConfig
	cacheEnabled    bool
	cacheTTL        time.Duration
	securityEnabled bool
}

// New creates a Client.
//
// The adapter is chosen in this order: WithAdapter, WithPlatform, then
// DetectPlatform on the process environment.
//
// Example - Basic usage:
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithServiceName("my-service"),
//	)
//
// Example - With retry configuration:
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithRetryConfig(httpclient.AggressiveRetryConfig()),
//	)
func New(opts ...Option) *Client {
	return newClient(newConfig(opts...))
}

func newClient(cfg *internalConfig) *Client {
	base, platform, err := resolveAdapter(cfg)
	if err != nil {
		cfg.Logger.Error().Err(err).Msg("adapter selection failed, falling back to the http adapter")
		base, platform = newHTTPAdapter(cfg), PlatformHTTP
	}

	// Decorators, innermost first: chaos, hedging, breaker, rate limit.
	adapter := base
	if cfg.Chaos != nil {
		adapter = newChaosAdapter(adapter, *cfg.Chaos)
	}
	if cfg.Hedge != nil {
		adapter = newHedgeAdapter(adapter, *cfg.Hedge)
	}
	adapter = newBreakerAdapter(adapter, cfg)
	if cfg.RateLimit != nil {
		adapter = newRateLimitAdapter(adapter, *cfg.RateLimit)
	}

	c := &Client{
		config:       cfg,
		adapter:      adapter,
		base:         base,
		platform:     platform,
		cache:        newClientCache(cfg),
		interceptors: NewRegistry(),
		security:     NewSecurityInterceptor(cfg.SecurityPolicy, cfg.Clock),
		state: clientState{
			baseURL:         cfg.BaseURL,
			defaultHeaders:  maps.Clone(cfg.DefaultHeaders),
			timeout:         cfg.httpConfig.Timeout,
			retry:           cfg.RetryConfig,
			cacheEnabled:    cfg.CacheEnabled,
			cacheTTL:        cfg.CacheTTL,
			securityEnabled: cfg.SecurityEnabled,
		},
	}

	c.recorder = cfg.ErrorRecorder
	if c.recorder == nil {
		c.errors = NewErrorManager(cfg.Logger)
		c.recorder = c.errors
	}

	return c
}

func newClientCache(cfg *internalConfig) *RequestCache {
	cache := NewRequestCache(cfg.CacheStore, cfg.Clock)
	cache.logger = cfg.Logger

	attrs := cfg.baseAttributes()
	cache.observe = func(ctx context.Context, event cacheEvent) {
		switch event {
		case cacheHit:
			cfg.Metrics.recordCacheLookup(ctx, "hit", attrs)
		case cacheMiss:
			cfg.Metrics.recordCacheLookup(ctx, "miss", attrs)
		case cacheJoin:
			cfg.Metrics.recordCacheLookup(ctx, "join", attrs)
		}
	}
	return cache
}

func (c *Client) snapshot() clientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.defaultHeaders = maps.Clone(c.state.defaultHeaders)
	return st
}

func (c *Client) update(fn func(st *clientState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// =============================================================================
// Instance Mutators
// =============================================================================

// SetDefaultHeaders merges headers into the default headers.
func (c *Client) SetDefaultHeaders(headers map[string]string) {
	c.update(func(st *clientState) {
		for k, v := range headers {
			setHeaderValue(st.defaultHeaders, k, v)
		}
	})
}

// UpdateDefaultHeader sets one default header.
func (c *Client) UpdateDefaultHeader(key, value string) {
	c.update(func(st *clientState) {
		setHeaderValue(st.defaultHeaders, key, value)
	})
}

// RemoveDefaultHeader removes one default header.
func (c *Client) RemoveDefaultHeader(key string) {
	c.update(func(st *clientState) {
		deleteHeader(st.defaultHeaders, key)
	})
}

// DefaultHeaders returns a copy of the default headers.
func (c *Client) DefaultHeaders() map[string]string {
	return c.snapshot().defaultHeaders
}

// SetDefaultTimeout sets the per-call timeout used when a call sets none.
func (c *Client) SetDefaultTimeout(d time.Duration) {
	c.update(func(st *clientState) { st.timeout = d })
}

// SetSecurityEnabled turns the URL check and security headers on or off.
func (c *Client) SetSecurityEnabled(enabled bool) {
	c.update(func(st *clientState) { st.securityEnabled = enabled })
}

// SetCacheEnabled turns response caching for GET calls on or off.
func (c *Client) SetCacheEnabled(enabled bool) {
	c.update(func(st *clientState) { st.cacheEnabled = enabled })
}

// SetDefaultCacheTTL sets the TTL used when a call sets none.
func (c *Client) SetDefaultCacheTTL(ttl time.Duration) {
	c.update(func(st *clientState) { st.cacheTTL = ttl })
}

// SetRetryConfig sets the default retry policy.
func (c *Client) SetRetryConfig(rc RetryConfig) {
	c.update(func(st *clientState) { st.retry = rc })
}

// SetAuthToken sets the Authorization default header to "<scheme> <token>".
// The scheme defaults to "Bearer".
//
// Example:
//
//	client.SetAuthToken(token)          // Authorization: Bearer <token>
//	client.SetAuthToken(creds, "Basic") // Authorization: Basic <creds>
func (c *Client) SetAuthToken(token string, scheme ...string) {
	s := "Bearer"
	if len(scheme) > 0 && scheme[0] != "" {
		s = scheme[0]
	}
	c.UpdateDefaultHeader("Authorization", s+" "+token)
}

// ClearAuthToken removes the Authorization default header.
func (c *Client) ClearAuthToken() {
	c.RemoveDefaultHeader("Authorization")
}

// SetBaseURL sets the URL that relative call URLs are resolved against.
func (c *Client) SetBaseURL(baseURL string) {
	c.update(func(st *clientState) { st.baseURL = baseURL })
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	return c.snapshot().baseURL
}

// CreateInstance returns a new Client configured like c, with its current
// defaults, and opts applied on top.
//
// The new client shares the global interceptor registry and any custom
// adapter or cache store, but starts with no instance interceptors and
// its own cache, breaker and rate limiter.
//
// Example:
//
//	admin := client.CreateInstance(
//	    httpclient.WithBaseURL("https://admin.example.com"),
//	    httpclient.WithTimeout(30*time.Second),
//	)
func (c *Client) CreateInstance(opts ...Option) *Client {
	st := c.snapshot()

	cfg := *c.config
	cfg.BaseURL = st.baseURL
	cfg.DefaultHeaders = st.defaultHeaders
	cfg.httpConfig.Timeout = st.timeout
	cfg.RetryConfig = st.retry
	cfg.CacheEnabled = st.cacheEnabled
	cfg.CacheTTL = st.cacheTTL
	cfg.SecurityEnabled = st.securityEnabled

	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.instrument()

	return newClient(&cfg)
}

// =============================================================================
// Interceptors
// =============================================================================

// UseRequestInterceptor registers a request interceptor on this client.
//
// Example:
//
//	handle := client.UseRequestInterceptor(
//	    httpclient.AuthBearerInterceptor(token),
//	    httpclient.WithPriority(httpclient.PriorityHigh),
//	    httpclient.WithGroup("auth"),
//	)
//	defer handle.Eject()
func (c *Client) UseRequestInterceptor(i RequestInterceptor, opts ...InterceptorOption) Handle {
	return c.interceptors.UseRequest(i, opts...)
}

// UseResponseInterceptor registers a response interceptor on this client.
func (c *Client) UseResponseInterceptor(i ResponseInterceptor, opts ...InterceptorOption) Handle {
	return c.interceptors.UseResponse(i, opts...)
}

// UseGlobalRequestInterceptor registers a request interceptor on the
// global registry shared by every client using it.
func (c *Client) UseGlobalRequestInterceptor(i RequestInterceptor, opts ...InterceptorOption) Handle {
	return c.config.GlobalRegistry.UseRequest(i, opts...)
}

// UseGlobalResponseInterceptor registers a response interceptor on the
// global registry.
func (c *Client) UseGlobalResponseInterceptor(i ResponseInterceptor, opts ...InterceptorOption) Handle {
	return c.config.GlobalRegistry.UseResponse(i, opts...)
}

// ClearInterceptors removes this client's interceptors, or only those in
// the given groups.
func (c *Client) ClearInterceptors(groups ...string) {
	c.interceptors.Clear(groups...)
}

// ClearGlobalInterceptors removes global interceptors, or only those in
// the given groups.
func (c *Client) ClearGlobalInterceptors(groups ...string) {
	c.config.GlobalRegistry.Clear(groups...)
}

// Interceptors returns a copy of this client's interceptors.
func (c *Client) Interceptors() InterceptorSnapshot {
	return c.interceptors.Snapshot()
}

// GlobalInterceptors returns a copy of the global interceptors.
func (c *Client) GlobalInterceptors() InterceptorSnapshot {
	return c.config.GlobalRegistry.Snapshot()
}

// =============================================================================
// Accessors
// =============================================================================

// Cache returns the client's request cache.
func (c *Client) Cache() *RequestCache {
	return c.cache
}

// Platform returns the platform of the active adapter.
func (c *Client) Platform() Platform {
	return c.platform
}

// ErrorManager returns the default error manager, or nil when a custom
// recorder was configured with WithErrorRecorder.
func (c *Client) ErrorManager() *ErrorManager {
	return c.errors
}

// =============================================================================
// Verbs
// =============================================================================

func withMethod(method, rawURL string, opts *RequestOptions) RequestOptions {
	var o RequestOptions
	if opts != nil {
		o = *opts
	}
	o.Method = method
	o.URL = rawURL
	return o
}

// Get performs a GET request. opts may be nil.
//
// Example:
//
//	resp, err := client.Get(ctx, "/users", &httpclient.RequestOptions{
//	    Params: map[string]any{"page": 2},
//	    Cache:  &httpclient.CacheOptions{Enabled: true, TTL: time.Minute},
//	})
func (c *Client) Get(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, withMethod(http.MethodGet, rawURL, opts))
}

// Post performs a POST request with body. opts may be nil.
func (c *Client) Post(ctx context.Context, rawURL string, body any, opts *RequestOptions) (*Response, error) {
	o := withMethod(http.MethodPost, rawURL, opts)
	o.Body = body
	return c.Do(ctx, o)
}

// Put performs a PUT request with body. opts may be nil.
func (c *Client) Put(ctx context.Context, rawURL string, body any, opts *RequestOptions) (*Response, error) {
	o := withMethod(http.MethodPut, rawURL, opts)
	o.Body = body
	return c.Do(ctx, o)
}

// Patch performs a PATCH request with body. opts may be nil.
func (c *Client) Patch(ctx context.Context, rawURL string, body any, opts *RequestOptions) (*Response, error) {
	o := withMethod(http.MethodPatch, rawURL, opts)
	o.Body = body
	return c.Do(ctx, o)
}

// Delete performs a DELETE request. opts may be nil.
func (c *Client) Delete(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, withMethod(http.MethodDelete, rawURL, opts))
}

// Upload sends files as multipart/form-data with POST, unless opts sets
// another method. It fails with a NetworkError wrapping
// ErrUnsupportedCapability when the adapter cannot upload.
//
// Example:
//
//	resp, err := client.Upload(ctx, "/documents", httpclient.UploadOptions{
//	    Files:      []httpclient.FileUpload{httpclient.FileFromPath("file", "report.pdf")},
//	    FormFields: map[string]string{"title": "Q4 Report"},
//	    OnProgress: func(p httpclient.Progress) { bar.Set(p.Loaded) },
//	}, nil)
func (c *Client) Upload(
	ctx context.Context,
	rawURL string,
	upload UploadOptions,
	opts *RequestOptions,
) (*Response, error) {
	o := withMethod(http.MethodPost, rawURL, opts)
	if opts != nil && opts.Method != "" {
		o.Method = strings.ToUpper(opts.Method)
	}
	o.upload = &upload
	return c.Do(ctx, o)
}

// Download streams the body of a GET to w. The returned Response carries
// no Data. It fails with a NetworkError wrapping ErrUnsupportedCapability
// when the adapter cannot download.
//
// A download is retried only while nothing has been written to w.
//
// Example:
//
//	f, _ := os.Create("report.pdf")
//	defer f.Close()
//	_, err := client.Download(ctx, "/reports/42", f, nil, nil)
func (c *Client) Download(
	ctx context.Context,
	rawURL string,
	w io.Writer,
	onProgress ProgressFunc,
	opts *RequestOptions,
) (*Response, error) {
	o := withMethod(http.MethodGet, rawURL, opts)
	o.download = &downloadTarget{writer: w, onProgress: onProgress}
	return c.Do(ctx, o)
}

// QuickGet performs a GET with query params and headers only.
func (c *Client) QuickGet(
	ctx context.Context,
	rawURL string,
	params map[string]any,
	headers map[string]string,
) (*Response, error) {
	return c.Do(ctx, RequestOptions{
		Method:  http.MethodGet,
		URL:     rawURL,
		Params:  params,
		Headers: headers,
	})
}

// QuickPost performs a POST with a body and headers only.
func (c *Client) QuickPost(
	ctx context.Context,
	rawURL string,
	data any,
	headers map[string]string,
) (*Response, error) {
	return c.Do(ctx, RequestOptions{
		Method:  http.MethodPost,
		URL:     rawURL,
		Body:    data,
		Headers: headers,
	})
}
