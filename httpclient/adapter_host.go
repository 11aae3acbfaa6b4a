package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/propagation"
)

// HostRequest is the request handed to a HostBridge.
type HostRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout is the per-call deadline. Zero means none.
	Timeout time.Duration
}

// HostResponse is the raw reply of a HostBridge. Headers may use any key
// casing; the adapter canonicalizes them.
type HostResponse struct {
	StatusCode int
	Headers    map[string]string
	Cookies    []string
	Body       []byte
}

// HostBridge sends requests through a native host runtime.
//
// Bridges must honor ctx cancellation and HostRequest.Timeout and must
// return a HostResponse whenever the server answered.
type HostBridge interface {
	Send(ctx context.Context, req *HostRequest) (*HostResponse, error)
}

// HostBridgeFunc adapts a function to HostBridge.
type HostBridgeFunc func(ctx context.Context, req *HostRequest) (*HostResponse, error)

// Send calls f(ctx, req).
func (f HostBridgeFunc) Send(ctx context.Context, req *HostRequest) (*HostResponse, error) {
	return f(ctx, req)
}

// HostAdapter sends requests through a HostBridge. It does not support
// uploads or downloads.
type HostAdapter struct {
	bridge      HostBridge
	logger      zerolog.Logger
	debug       bool
	propagators propagation.TextMapPropagator
}

var _ Adapter = (*HostAdapter)(nil)

func newHostAdapter(cfg *internalConfig) *HostAdapter {
	bridge := cfg.HostBridge
	if bridge == nil {
		bridge = newFastHTTPBridge(cfg)
	}
	return &HostAdapter{
		bridge:      bridge,
		logger:      cfg.Logger,
		debug:       cfg.Debug,
		propagators: cfg.Propagators,
	}
}

// Request implements Adapter.
func (a *HostAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	reader, contentType, err := encodeBody(cfg.Method, cfg.Body)
	if err != nil {
		return nil, err
	}

	var body []byte
	if reader != nil {
		if body, err = io.ReadAll(reader); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
	}

	headers := make(map[string]string, len(cfg.Headers)+3)
	for k, v := range cfg.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	if _, ok := headers["Content-Type"]; !ok && contentType != "" {
		headers["Content-Type"] = contentType
	}
	if _, ok := headers["Accept"]; !ok && acceptFor(cfg.ResponseType) != "" {
		headers["Accept"] = acceptFor(cfg.ResponseType)
	}
	a.propagators.Inject(ctx, propagation.MapCarrier(headers))

	start := time.Now()
	raw, err := a.bridge.Send(ctx, &HostRequest{
		Method:  cfg.Method,
		URL:     cfg.URL,
		Headers: headers,
		Body:    body,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, classifyError(ctx, err, cfg.Timeout)
	}

	if a.debug {
		a.logger.Debug().
			Str("request_id", cfg.RequestID).
			Int("status", raw.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("host bridge call")
	}

	out := &Response{
		StatusCode: raw.StatusCode,
		Headers:    make(map[string]string, len(raw.Headers)),
		Data:       raw.Body,
		Config:     cfg,
	}
	for k, v := range raw.Headers {
		out.Headers[http.CanonicalHeaderKey(k)] = v
	}
	for _, line := range raw.Cookies {
		if cookie, err := http.ParseSetCookie(line); err == nil {
			out.Cookies = append(out.Cookies, cookie)
		}
	}
	if !out.IsSuccess() {
		out.ErrMsg = http.StatusText(raw.StatusCode)
	}
	return out, nil
}

// fastHTTPBridge is the default HostBridge, built on fasthttp.
type fastHTTPBridge struct {
	client *fasthttp.Client
}

func newFastHTTPBridge(cfg *internalConfig) *fastHTTPBridge {
	hc := cfg.httpConfig
	name := cfg.ServiceName
	if name == "" {
		name = "reqkit"
	}
	return &fastHTTPBridge{
		client: &fasthttp.Client{
			Name:                name,
			MaxConnsPerHost:     hc.MaxConnsPerHost,
			MaxIdleConnDuration: hc.IdleConnTimeout,
			ReadBufferSize:      hc.ReadBufferSize,
			WriteBufferSize:     hc.WriteBufferSize,
			TLSConfig:           cfg.TLSConfig,
		},
	}
}

type fastHTTPResult struct {
	resp *HostResponse
	err  error
}

// Send implements HostBridge. fasthttp has no context support, so the call
// runs in its own goroutine and is abandoned when ctx ends first.
func (b *fastHTTPBridge) Send(ctx context.Context, hr *HostRequest) (*HostResponse, error) {
	done := make(chan fastHTTPResult, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(hr.URL)
		req.Header.SetMethod(hr.Method)
		for k, v := range hr.Headers {
			req.Header.Set(k, v)
		}
		if len(hr.Body) > 0 {
			req.SetBody(hr.Body)
		}

		var err error
		if hr.Timeout > 0 {
			err = b.client.DoTimeout(req, resp, hr.Timeout)
		} else {
			err = b.client.Do(req, resp)
		}
		if err != nil {
			done <- fastHTTPResult{err: err}
			return
		}

		out := &HostResponse{
			StatusCode: resp.StatusCode(),
			Headers:    map[string]string{},
			Body:       append([]byte(nil), resp.Body()...),
		}
		resp.Header.VisitAll(func(key, value []byte) {
			k := string(key)
			if strings.EqualFold(k, "Set-Cookie") {
				return
			}
			if prev, ok := out.Headers[k]; ok {
				out.Headers[k] = prev + ", " + string(value)
				return
			}
			out.Headers[k] = string(value)
		})
		resp.Header.VisitAllCookie(func(_, value []byte) {
			out.Cookies = append(out.Cookies, string(value))
		})
		done <- fastHTTPResult{resp: out}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
