package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptrace"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPAdapter is the net/http adapter. It supports uploads and downloads.
type HTTPAdapter struct {
	client      *http.Client
	jarClient   *http.Client
	logger      zerolog.Logger
	debug       bool
	propagators propagation.TextMapPropagator
}

var (
	_ Adapter    = (*HTTPAdapter)(nil)
	_ Uploader   = (*HTTPAdapter)(nil)
	_ Downloader = (*HTTPAdapter)(nil)
)

func newHTTPAdapter(cfg *internalConfig) *HTTPAdapter {
	transport := cfg.buildTransport()

	jar := cfg.CookieJar
	if jar == nil {
		// cookiejar.New only fails on a bad PublicSuffixList.
		jar, _ = cookiejar.New(nil)
	}

	// Timeouts are applied per call through the context.
	return &HTTPAdapter{
		client:      &http.Client{Transport: transport},
		jarClient:   &http.Client{Transport: transport, Jar: jar},
		logger:      cfg.Logger,
		debug:       cfg.Debug,
		propagators: cfg.Propagators,
	}
}

// Request implements Adapter.
func (a *HTTPAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	body, contentType, err := encodeBody(cfg.Method, cfg.Body)
	if err != nil {
		return nil, err
	}
	return a.do(ctx, cfg, body, contentType, nil)
}

// Upload implements Uploader.
func (a *HTTPAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	return a.do(ctx, cfg, body.Reader(), body.ContentType, nil)
}

// Download implements Downloader. Only 2xx bodies are streamed to w; other
// bodies are kept in Response.Data for error reporting.
func (a *HTTPAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	return a.do(ctx, cfg, nil, "", func(resp *http.Response) error {
		pw := &progressWriter{w: w, total: resp.ContentLength, onProgress: onProgress}
		_, err := io.Copy(pw, resp.Body)
		return err
	})
}

// do sends one request. When sink is set, 2xx bodies are handed to it
// instead of being buffered.
func (a *HTTPAdapter) do(
	ctx context.Context,
	cfg *RequestConfig,
	body io.Reader,
	contentType string,
	sink func(*http.Response) error,
) (*Response, error) {
	parent := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var tracer *requestTracer
	span := trace.SpanFromContext(ctx)
	if a.debug || span.IsRecording() {
		tracer = newRequestTracer()
		ctx = httptrace.WithClientTrace(ctx, tracer.clientTrace())
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" && acceptFor(cfg.ResponseType) != "" {
		req.Header.Set("Accept", acceptFor(cfg.ResponseType))
	}
	a.propagators.Inject(ctx, propagation.HeaderCarrier(req.Header))

	client := a.client
	if cfg.Credentials {
		client = a.jarClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyError(parent, err, cfg.Timeout)
	}
	defer resp.Body.Close()

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		Cookies:    resp.Cookies(),
		Config:     cfg,
	}
	if !out.IsSuccess() {
		out.ErrMsg = http.StatusText(resp.StatusCode)
	}

	if sink != nil && out.IsSuccess() {
		err = sink(resp)
	} else {
		out.Data, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, classifyError(parent, err, cfg.Timeout)
	}

	if tracer != nil {
		tracer.addSpanEvents(span)
		if a.debug {
			logTrace(a.logger, cfg, tracer.info())
		}
	}

	return out, nil
}

// encodeBody turns a RequestConfig body into a reader and a default
// content type. GET and HEAD requests never carry a body.
func encodeBody(method string, body any) (io.Reader, string, error) {
	if body == nil || method == http.MethodGet || method == http.MethodHead {
		return nil, "", nil
	}

	switch b := body.(type) {
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	case string:
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		return b, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func acceptFor(rt ResponseType) string {
	switch rt {
	case ResponseTypeJSON, "":
		return "application/json"
	case ResponseTypeText:
		return "text/plain"
	default:
		return ""
	}
}

// flattenHeader normalizes a multi-valued header into a plain map with
// canonical keys. Repeated values are joined with ", ".
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[http.CanonicalHeaderKey(k)] = strings.Join(v, ", ")
	}
	return out
}
