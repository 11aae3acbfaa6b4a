package httpclient

import (
	"crypto/tls"
	"maps"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/reqkit/httpclient"
)

// =============================================================================
// Config - Transport Configuration
// =============================================================================

// Config holds the transport tuning used by the built-in HTTP adapter.
// Timeout is also the client's default per-call timeout, whatever the
// adapter.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.MaxIdleConnsPerHost = 25
//
//	client := httpclient.New(httpclient.WithConfig(cfg))
type Config struct {
	// Timeout is the default per-call deadline. Zero means no deadline.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host. Usually the
	// setting that matters most when one upstream dominates.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps total connections per host. Zero is unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout closes idle connections after this long. Keep it
	// below the upstream's own idle timeout.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero defers to Timeout.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the Happy Eyeballs delay. Negative disables it.
	//
	// Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	//
	// Default: 64KB each
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. Zero uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	// DisableKeepAlives forces a new connection per request.
	DisableKeepAlives bool

	// DisableCompression stops the transport from requesting gzip.
	//
	// Default: true
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 on custom dialers and TLS configs.
	ForceHTTP2 bool
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableCompression: true,
	}
}

// HighThroughputConfig favors many concurrent calls to the same upstreams:
// larger pools, larger buffers, unlimited connections per host.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0 // Unlimited for bursts
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig fails fast: short timeouts and quick dials.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig keeps pools and buffers small, for constrained
// environments or processes holding many clients.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds everything New needs to assemble a Client.
type internalConfig struct {
	httpConfig Config

	// === Request defaults ===

	BaseURL        string
	DefaultHeaders map[string]string
	RetryConfig    RetryConfig

	// === Adapter selection ===

	Adapter    Adapter
	Platform   Platform
	Getenv     func(string) string
	HostBridge HostBridge

	// === Cache ===

	CacheEnabled bool
	CacheTTL     time.Duration
	CacheStore   CacheStore
	Clock        Clock

	// === Security ===

	SecurityEnabled bool
	SecurityPolicy  SecurityPolicy

	// === Interceptors and errors ===

	GlobalRegistry *Registry
	ErrorRecorder  ErrorRecorder

	// === Resilience ===

	RateLimit     *RateLimitConfig
	BreakerConfig *BreakerConfig
	Hedge         *HedgeConfig
	Chaos         *ChaosConfig

	// === HTTP adapter ===

	TLSConfig    *tls.Config
	ProxyURL     *url.URL
	ProxyFromEnv bool
	CookieJar    http.CookieJar

	// === Observability ===

	ServiceName    string
	Logger         zerolog.Logger
	Debug          bool
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagators    propagation.TextMapPropagator

	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *metrics
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:      DefaultConfig(),
		DefaultHeaders:  map[string]string{},
		RetryConfig:     DefaultRetryConfig(),
		Getenv:          os.Getenv,
		CacheTTL:        DefaultCacheTTL,
		Clock:           realClock{},
		SecurityEnabled: true,
		SecurityPolicy:  DefaultSecurityPolicy(),
		GlobalRegistry:  GlobalRegistry(),
		ProxyFromEnv:    true,
		Logger:          zerolog.Nop(),
		TracerProvider:  otel.GetTracerProvider(),
		MeterProvider:   otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}

	for _, opt := range opts {
		opt(cfg)
	}
	cfg.instrument()

	return cfg
}

// instrument derives the tracer, meter and instruments from the providers.
func (cfg *internalConfig) instrument() {
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Metrics stay nil if instrument creation fails; recorders are nil-safe.
	cfg.Metrics, _ = newMetrics(cfg.Meter)
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnv {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options
// =============================================================================

// Option configures the client.
type Option func(*internalConfig)

// WithConfig sets the transport configuration and default timeout.
// Start from DefaultConfig(), HighThroughputConfig(), LowLatencyConfig() or
// ConservativeConfig() and customize as needed.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithBaseURL sets the URL that relative request URLs are resolved against.
//
// Example:
//
//	client := httpclient.New(httpclient.WithBaseURL("https://api.example.com/v1"))
//	client.Get(ctx, "/users", nil) // https://api.example.com/v1/users
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithDefaultHeaders sets headers sent with every request. Per-call headers
// win on conflict.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders = maps.Clone(headers)
		if cfg.DefaultHeaders == nil {
			cfg.DefaultHeaders = map[string]string{}
		}
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.Timeout = d
	}
}

// WithAdapter injects a custom transport adapter. It takes precedence over
// WithPlatform and environment detection.
//
// Example:
//
//	mock := httpclient.NewMockAdapter().StubJSON(200, `{"ok":true}`)
//	client := httpclient.New(httpclient.WithAdapter(mock))
func WithAdapter(a Adapter) Option {
	return func(cfg *internalConfig) {
		cfg.Adapter = a
	}
}

// WithPlatform selects a built-in adapter instead of detecting one from
// the environment.
func WithPlatform(p Platform) Option {
	return func(cfg *internalConfig) {
		cfg.Platform = p
	}
}

// WithEnvLookup replaces os.Getenv for platform detection.
func WithEnvLookup(getenv func(string) string) Option {
	return func(cfg *internalConfig) {
		cfg.Getenv = getenv
	}
}

// WithHostBridge sets the bridge used by the host adapter.
// Default: a fasthttp-backed bridge.
func WithHostBridge(b HostBridge) Option {
	return func(cfg *internalConfig) {
		cfg.HostBridge = b
	}
}

// WithCache enables or disables response caching for GET requests.
// Default: disabled.
func WithCache(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.CacheEnabled = enabled
	}
}

// WithCacheTTL sets the default cache TTL. Default: 5m.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.CacheTTL = ttl
	}
}

// WithCacheStore sets the cache storage. Default: an in-memory store.
// See NewOtterCacheStore and NewRedisCacheStore.
func WithCacheStore(store CacheStore) Option {
	return func(cfg *internalConfig) {
		cfg.CacheStore = store
	}
}

// WithClock sets the clock used for cache expiry. Useful in tests.
func WithClock(clock Clock) Option {
	return func(cfg *internalConfig) {
		cfg.Clock = clock
	}
}

// WithRetryConfig sets the default retry policy.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.AggressiveRetryConfig()),
//	)
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = rc
	}
}

// WithSecurity enables or disables the URL check and security headers.
// Default: enabled.
func WithSecurity(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.SecurityEnabled = enabled
	}
}

// WithSecurityPolicy sets the security policy.
func WithSecurityPolicy(p SecurityPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.SecurityPolicy = p
	}
}

// WithGlobalRegistry replaces the process-wide interceptor registry for
// this client and the instances created from it.
func WithGlobalRegistry(r *Registry) Option {
	return func(cfg *internalConfig) {
		cfg.GlobalRegistry = r
	}
}

// WithErrorRecorder sets the recorder notified of every final error.
// Default: an ErrorManager logging through the client logger.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(cfg *internalConfig) {
		cfg.ErrorRecorder = r
	}
}

// WithRateLimit limits the rate of transport calls, retries included.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRateLimit(httpclient.RateLimitConfig{
//	        RequestsPerSecond: 50,
//	        Burst:             10,
//	        WaitOnLimit:       true,
//	    }),
//	)
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = &rl
	}
}

// WithCircuitBreaker wraps the adapter in a circuit breaker.
//
// Example - Distributed breaker shared through Redis:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	client := httpclient.New(
//	    httpclient.WithServiceName("payment-client"),
//	    httpclient.WithCircuitBreaker(
//	        httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb)),
//	    ),
//	)
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithHedging sends duplicate GET, HEAD and OPTIONS requests when an
// attempt is slow. See HedgeConfig.
//
// Example - Adaptive delay at the per-endpoint P95:
//
//	client := httpclient.New(
//	    httpclient.WithHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	)
func WithHedging(hc HedgeConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Hedge = &hc
	}
}

// WithChaos injects latency, errors, timeouts and error statuses into
// transport calls. Meant for development and tests only.
func WithChaos(cc ChaosConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Chaos = &cc
	}
}

// WithTLSConfig sets the TLS configuration of the HTTP adapter.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes HTTP adapter traffic through a proxy.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnv = false
	}
}

// WithCookieJar sets the jar used by calls with Credentials set.
// Default: a fresh in-memory jar per client.
func WithCookieJar(jar http.CookieJar) Option {
	return func(cfg *internalConfig) {
		cfg.CookieJar = jar
	}
}

// WithServiceName sets an identifier for this client in traces, metrics
// and logs ("http.client.name").
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	client := httpclient.New(httpclient.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every request (with an equivalent curl command) and
// response at debug level.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing headers. Default: W3C TraceContext and Baggage.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}
