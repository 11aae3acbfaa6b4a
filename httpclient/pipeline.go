package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Do performs the call described by opts and returns the final response.
//
// The call runs through these stages:
//  1. Build the RequestConfig (base URL, default headers, query params).
//  2. Security check and security headers, when enabled.
//  3. Hooks.BeforeRequest.
//  4. Cache lookup and de-duplication for eligible GETs.
//  5. Request interceptors, retried transport call, response interceptors.
//  6. Status validation: anything outside 2xx is an *HTTPError.
//
// Every error is a RequestError. Hooks.OnError is called exactly once
// with it before Do returns.
//
// Example:
//
//	resp, err := client.Do(ctx, httpclient.RequestOptions{
//	    Method: http.MethodGet,
//	    URL:    "/users",
//	    Params: map[string]any{"page": 1, "tag": []string{"a", "b"}},
//	    Cache:  &httpclient.CacheOptions{Enabled: true},
//	})
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	st := c.snapshot()
	cfg, buildErr := buildRequestConfig(st, &opts)

	ctx, span := c.config.Tracer.Start(ctx, "HTTP "+cfg.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.config.spanAttributes(cfg, c.platform)...),
	)
	defer span.End()

	attrs := c.config.metricAttributes(cfg.Method, cfg.URL, 0)
	c.config.Metrics.recordActiveRequestStart(ctx, attrs)
	defer c.config.Metrics.recordActiveRequestEnd(ctx, attrs)

	start := time.Now()
	call := &call{client: c, state: st, opts: &opts, cfg: cfg}

	resp, err := call.run(ctx, buildErr)
	if err != nil {
		return nil, c.fail(ctx, span, call, err, start)
	}

	duration := time.Since(start)
	c.config.Metrics.recordRequestDuration(ctx, duration,
		c.config.metricAttributes(cfg.Method, cfg.URL, resp.StatusCode))
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Bool("http.client.cache_hit", resp.FromCache),
	)

	if h := opts.Hooks.AfterResponse; h != nil {
		h(ctx, resp)
	}
	if c.config.Debug {
		logResponse(c.config.Logger, cfg, resp, duration)
	}
	return resp, nil
}

// fail classifies err, records it and calls the OnError hook.
func (c *Client) fail(ctx context.Context, span trace.Span, call *call, err error, start time.Time) error {
	err = classifyError(ctx, err, call.cfg.Timeout)
	enrichError(err, call.cfg, c.platform, 0)

	var status int
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode
	}

	errorType := errorTypeOf(err)
	attrs := c.config.metricAttributes(call.cfg.Method, call.cfg.URL, status)
	c.config.Metrics.recordRequestDuration(ctx, time.Since(start), attrs)
	c.config.Metrics.recordError(ctx, errorType, attrs)
	setSpanError(span, err, errorType)

	c.recorder.Record(ctx, err)
	if h := call.opts.Hooks.OnError; h != nil {
		h(ctx, err)
	}
	return err
}

// call is the state of one Do invocation.
type call struct {
	client *Client
	state  clientState
	opts   *RequestOptions

	// cfg is the config before request interceptors run.
	cfg *RequestConfig
}

func (c *call) run(ctx context.Context, buildErr error) (*Response, error) {
	if buildErr != nil {
		return nil, buildErr
	}
	cl := c.client

	if c.state.securityEnabled {
		next, err := cl.security.Request(c.cfg)
		if err != nil {
			return nil, err
		}
		c.cfg = next
	}

	if h := c.opts.Hooks.BeforeRequest; h != nil {
		h(ctx, c.cfg)
	}

	key, cacheable := c.cacheKey()
	if key == "" {
		return c.execute(ctx)
	}

	span := trace.SpanFromContext(ctx)
	// Live entries are served before joining an in-flight call, so a hit
	// never waits on a pending one.
	if cacheable {
		if hit, ok := cl.cache.Get(ctx, key); ok {
			hit.Config = c.cfg
			return hit, nil
		}
	}

	resp, shared, err := cl.cache.Do(ctx, key, func() (*Response, error) {
		resp, err := c.execute(ctx)
		if err == nil && cacheable {
			// Store failures are logged by the cache and never fail the call.
			_ = cl.cache.Set(ctx, key, resp, c.cacheTTL())
		}
		return resp, err
	})
	if shared {
		span.SetAttributes(attribute.Bool("http.client.dedup_joined", true))
	}
	return resp, err
}

// cacheKey returns the de-duplication key of the call, or "" when the
// call is neither cached nor de-duplicated.
func (c *call) cacheKey() (key string, cacheable bool) {
	if c.cfg.Method != http.MethodGet || c.opts.upload != nil || c.opts.download != nil {
		return "", false
	}

	co := c.opts.Cache
	if co != nil && co.ForceRefresh {
		return "", false
	}

	cacheable = c.state.cacheEnabled || (co != nil && co.Enabled)
	if !cacheable && !c.opts.Dedupe {
		return "", false
	}
	return cacheKeyFor(c.cfg, co), cacheable
}

func (c *call) cacheTTL() time.Duration {
	if co := c.opts.Cache; co != nil && co.TTL > 0 {
		return co.TTL
	}
	return c.state.cacheTTL
}

func (c *call) retryConfig() RetryConfig {
	if c.opts.Retry != nil {
		return *c.opts.Retry
	}
	return c.state.retry
}

// execute runs the interceptor chains around the retried transport call.
// It may run on a goroutine shared by de-duplicated callers, so it never
// mutates c. Returned errors are fully classified.
func (c *call) execute(ctx context.Context) (*Response, error) {
	cl := c.client
	logger := cl.config.Logger

	cfg, err := runRequestChain(ctx, requestChain(cl.config.GlobalRegistry, cl.interceptors), c.cfg, logger)
	if err != nil {
		return nil, c.finalize(ctx, c.cfg, err, 0)
	}
	if cl.config.Debug {
		logRequest(logger, cfg)
	}

	rc := c.retryConfig().withDefaults()
	send, written, err := c.transport(cfg, rc.Retries > 0)
	if err != nil {
		return nil, c.finalize(ctx, cfg, err, 0)
	}
	if written != nil {
		should := rc.ShouldRetry
		rc.ShouldRetry = func(err error, attempt int) bool {
			return written.n == 0 && should(err, attempt)
		}
	}

	chain := responseChain(cl.config.GlobalRegistry, cl.interceptors)
	attrs := cl.config.metricAttributes(cfg.Method, cfg.URL, 0)
	resp, retries, err := executeWithRetry(ctx, rc, func(ctx context.Context) (*Response, error) {
		resp, err := send(ctx)
		if err != nil {
			return nil, classifyError(ctx, err, cfg.Timeout)
		}
		if resp == nil {
			return nil, NewNetworkError(errors.New("adapter returned no response"))
		}
		if !resp.IsSuccess() {
			return resp, NewHTTPError(resp.StatusCode, resp)
		}
		return resp, nil
	}, c.notify(ctx, cfg, attrs))
	if err != nil {
		if rc.Retries > 0 && retries == rc.Retries {
			cl.config.Metrics.recordRetryExhausted(ctx, attrs)
		}

		// The last non-2xx reply still runs through the response chain;
		// transport failures go to its error handlers only.
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.Response == nil {
			return nil, c.finalize(ctx, cfg, runResponseErrorHandlers(ctx, chain, err, logger), retries)
		}
		resp = httpErr.Response
	}

	resp.Config = cfg
	if c.state.securityEnabled {
		if resp, err = cl.security.Response(resp); err != nil {
			return nil, c.finalize(ctx, cfg, err, retries)
		}
	}

	resp, err = runResponseChain(ctx, chain, resp, logger)
	if err != nil {
		return nil, c.finalize(ctx, cfg, err, retries)
	}
	if !resp.IsSuccess() {
		err = runResponseErrorHandlers(ctx, chain, NewHTTPError(resp.StatusCode, resp), logger)
		return nil, c.finalize(ctx, cfg, err, retries)
	}
	return resp, nil
}

func (c *call) finalize(ctx context.Context, cfg *RequestConfig, err error, retries int) error {
	err = classifyError(ctx, err, cfg.Timeout)
	enrichError(err, cfg, c.client.platform, retries)
	return err
}

// notify reports a scheduled retry on the span, metrics and debug log.
func (c *call) notify(ctx context.Context, cfg *RequestConfig, attrs []attribute.KeyValue) retryNotifyFunc {
	cl := c.client
	span := trace.SpanFromContext(ctx)

	return func(attempt int, err error, next time.Duration) {
		cl.config.Metrics.recordRetryAttempt(ctx, attrs, attempt)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.Int64("retry.delay_ms", next.Milliseconds()),
			attribute.String("error.type", errorTypeOf(err)),
		))
		if cl.config.Debug {
			cl.config.Logger.Debug().
				Err(err).
				Str("request_id", cfg.RequestID).
				Int("attempt", attempt).
				Dur("delay", next).
				Msg("retrying request")
		}
	}
}

// transport returns the single-attempt send function of the call. For
// downloads it also returns the byte counter of the destination, so that
// a partially written download is never retried. When replay is set an
// io.Reader body is buffered once and every attempt reads a fresh copy.
func (c *call) transport(
	cfg *RequestConfig,
	replay bool,
) (func(context.Context) (*Response, error), *countingWriter, error) {
	cl := c.client

	switch {
	case c.opts.upload != nil:
		if _, ok := cl.base.(Uploader); !ok {
			return nil, nil, NewNetworkError(fmt.Errorf("%w: upload on %s adapter", ErrUnsupportedCapability, cl.platform))
		}
		uploader, ok := cl.adapter.(Uploader)
		if !ok {
			return nil, nil, NewNetworkError(fmt.Errorf("%w: upload", ErrUnsupportedCapability))
		}

		// Encoded once so that every attempt sends the same bytes.
		body, err := encodeMultipart(c.opts.upload)
		if err != nil {
			return nil, nil, NewNetworkError(err)
		}
		return func(ctx context.Context) (*Response, error) {
			return uploader.Upload(ctx, cfg, body)
		}, nil, nil

	case c.opts.download != nil:
		if _, ok := cl.base.(Downloader); !ok {
			return nil, nil, NewNetworkError(fmt.Errorf("%w: download on %s adapter", ErrUnsupportedCapability, cl.platform))
		}
		downloader, ok := cl.adapter.(Downloader)
		if !ok {
			return nil, nil, NewNetworkError(fmt.Errorf("%w: download", ErrUnsupportedCapability))
		}

		target := c.opts.download
		w := &countingWriter{w: target.writer}
		return func(ctx context.Context) (*Response, error) {
			return downloader.Download(ctx, cfg, w, target.onProgress)
		}, w, nil
	}

	if r, ok := cfg.Body.(io.Reader); ok && replay {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, NewNetworkError(fmt.Errorf("%w: %w", ErrInvalidBody, err))
		}
		return func(ctx context.Context) (*Response, error) {
			attempt := *cfg
			attempt.Body = bytes.NewReader(data)
			return cl.adapter.Request(ctx, &attempt)
		}, nil, nil
	}

	return func(ctx context.Context) (*Response, error) {
		return cl.adapter.Request(ctx, cfg)
	}, nil, nil
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// =============================================================================
// Config Building
// =============================================================================

// buildRequestConfig normalizes opts against the client defaults. The
// returned config is usable for telemetry even when err is non-nil.
func buildRequestConfig(st clientState, opts *RequestOptions) (*RequestConfig, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers := maps.Clone(st.defaultHeaders)
	if headers == nil {
		headers = make(map[string]string, len(opts.Headers))
	}
	for k, v := range opts.Headers {
		setHeaderValue(headers, k, v)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = st.timeout
	}

	responseType := opts.ResponseType
	if responseType == "" {
		responseType = ResponseTypeJSON
	}

	cfg := &RequestConfig{
		Method:        method,
		URL:           opts.URL,
		Headers:       headers,
		Body:          opts.Body,
		Timeout:       timeout,
		ResponseType:  responseType,
		Credentials:   opts.Credentials,
		Metadata:      maps.Clone(opts.Metadata),
		OperationName: opts.OperationName,
	}

	cfg.RequestID = cfg.Header(HeaderRequestID)
	if cfg.RequestID == "" {
		cfg.RequestID = uuid.NewString()
	}

	resolved, err := resolveURL(st.baseURL, opts.URL, opts.Params)
	if err != nil {
		return cfg, NewNetworkError(err)
	}
	cfg.URL = resolved
	return cfg, nil
}

// resolveURL joins rawURL onto baseURL unless it is already absolute and
// appends params to the query string.
func resolveURL(baseURL, rawURL string, params map[string]any) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if !u.IsAbs() {
		if baseURL == "" {
			return "", fmt.Errorf("%w: %q is relative and no base url is set", ErrInvalidURL, rawURL)
		}
		joined := strings.TrimSuffix(baseURL, "/")
		if rawURL != "" {
			joined += "/" + strings.TrimPrefix(rawURL, "/")
		}
		if u, err = url.Parse(joined); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrInvalidURL, u.String())
	}

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			addParam(q, k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// addParam adds v under key. Nil values are skipped and slices become
// repeated keys.
func addParam(q url.Values, key string, v any) {
	if v == nil {
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if !rv.IsNil() {
			addParam(q, key, rv.Elem().Interface())
		}
		return
	case reflect.Slice, reflect.Array:
		if _, isBytes := v.([]byte); !isBytes {
			for i := range rv.Len() {
				addParam(q, key, rv.Index(i).Interface())
			}
			return
		}
	}

	q.Add(key, formatParam(v))
}

func formatParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
