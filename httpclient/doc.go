// Package httpclient provides a transport-agnostic HTTP request client with
// interceptors, retry, response caching, request de-duplication and
// OpenTelemetry instrumentation.
//
// # Features
//
//   - Pluggable adapters: net/http, a host-runtime bridge (fasthttp by
//     default) or any custom Adapter
//   - Request and response interceptor chains with priorities and groups,
//     per client and process-wide
//   - Retry with fixed, linear or exponential delays and a delay cap
//   - TTL response cache (memory, otter or Redis) and de-duplication of
//     concurrent identical GETs
//   - A closed error taxonomy: HTTPError, NetworkError, TimeoutError,
//     CancelError
//   - URL security policy and signed security headers
//   - Circuit breaker and rate limiter adapter decorators
//   - OpenTelemetry spans and metrics, Prometheus collectors
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithServiceName("my-service"),
//	)
//
//	// Unwrap the payload of a GET
//	users, err := httpclient.As[[]User](client.Get(ctx, "/users", &httpclient.RequestOptions{
//	    Params: map[string]any{"page": 1},
//	}))
//
//	// POST with the fluent builder
//	var created User
//	_, err = client.Request("CreateUser").
//	    Body(newUser).
//	    Decode(&created).
//	    Post(ctx, "/users")
//
// # Adapters
//
// The adapter is chosen once per client: WithAdapter wins, then
// WithPlatform, then DetectPlatform reads REQKIT_PLATFORM and
// REQKIT_HOST_RUNTIME from the environment:
//
//	client := httpclient.New(httpclient.WithPlatform(httpclient.PlatformHost))
//
// Adapters may implement Uploader and Downloader. Upload and Download fail
// with ErrUnsupportedCapability when the active adapter does not.
//
// # Interceptors
//
// Interceptors run in descending priority, client and global interceptors
// merged into one order:
//
//	handle := client.UseRequestInterceptor(
//	    httpclient.AuthBearerInterceptor(token),
//	    httpclient.WithPriority(httpclient.PriorityHigh),
//	    httpclient.WithGroup("auth"),
//	)
//	defer handle.Eject()
//
// When an interceptor fails, the error handlers of the interceptors from the
// end of the chain back to the failing one are offered the error in turn.
//
// # Retry
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.RetryConfig{
//	        Retries:  3,
//	        Delay:    500 * time.Millisecond,
//	        Strategy: httpclient.StrategyExponential,
//	        MaxDelay: 5 * time.Second,
//	    }),
//	)
//
// DefaultShouldRetry retries network failures, timeouts and 5xx responses.
// 4xx responses and cancellations are never retried.
//
// # Caching
//
//	client := httpclient.New(
//	    httpclient.WithCache(true),
//	    httpclient.WithCacheTTL(time.Minute),
//	    httpclient.WithCacheStore(httpclient.NewRedisCacheStore(rdb, "api:")),
//	)
//
// Only successful GETs are cached. Concurrent identical cache-eligible GETs
// share one transport call; RequestOptions.Dedupe extends this to uncached
// GETs.
//
// # Errors
//
//	_, err := client.Get(ctx, "/users/1", nil)
//	var httpErr *httpclient.HTTPError
//	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
//	    // ...
//	}
//
// Every error is also passed to the client's ErrorRecorder and to the
// call's Hooks.OnError, exactly once.
//
// # Observability
//
// Every call produces an "HTTP {method}" client span and the metrics
// http.client.request.duration, http.client.active_requests,
// http.client.request.errors, http.client.retry.attempts and
// http.client.cache.lookups. Use WithTracerProvider and WithMeterProvider
// to route them; NewPrometheusRecorder and NewCacheCollector expose error
// and cache series to Prometheus.
//
// # Testing
//
// MockAdapter stubs the transport and records every request:
//
//	mock := httpclient.NewMockAdapter().StubJSON(200, `{"ok":true}`)
//	client := httpclient.New(httpclient.WithAdapter(mock))
package httpclient
