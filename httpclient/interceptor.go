package httpclient

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestInterceptor runs before the transport call.
//
// OnRequest may return a modified copy of cfg; returning nil keeps cfg.
// When any request interceptor fails, OnRequestError handlers are offered
// the error in reverse order and may replace it by returning a different
// non-nil error.
type RequestInterceptor struct {
	OnRequest      func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)
	OnRequestError func(ctx context.Context, err error) error
}

// ResponseInterceptor runs after the transport call succeeded.
//
// OnResponse may return a replacement response; returning nil keeps resp.
// OnResponseError handlers are offered errors raised by response
// interceptors, in reverse order.
type ResponseInterceptor struct {
	OnResponse      func(ctx context.Context, resp *Response) (*Response, error)
	OnResponseError func(ctx context.Context, err error) error
}

// Priority orders interceptors. Higher values run first.
type Priority int

// Named priority tiers. Any other integer is also a valid priority.
const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 50
	PriorityHigh   Priority = 100
)

// InterceptorOption configures an interceptor registration.
type InterceptorOption func(*registration)

type registration struct {
	priority Priority
	group    string
}

// WithPriority sets the interceptor priority. Default: PriorityMedium.
func WithPriority(p Priority) InterceptorOption {
	return func(r *registration) { r.priority = p }
}

// WithGroup tags the interceptor for bulk removal with Clear.
func WithGroup(group string) InterceptorOption {
	return func(r *registration) { r.group = group }
}

// Registered is an interceptor together with its registration data.
type Registered[T any] struct {
	ID          string
	Priority    Priority
	Group       string
	Interceptor T
}

// InterceptorSnapshot is a copy of the interceptors held by a Registry,
// in registration order.
type InterceptorSnapshot struct {
	Request  []Registered[RequestInterceptor]
	Response []Registered[ResponseInterceptor]
}

// Handle identifies a registration.
type Handle struct {
	ID    string
	eject func()
}

// Eject removes the interceptor. Later calls are no-ops.
func (h Handle) Eject() {
	if h.eject != nil {
		h.eject()
	}
}

// Registry holds request and response interceptors.
//
// Every Client owns an instance Registry and shares a process-wide one,
// GlobalRegistry() unless WithGlobalRegistry injects another. On each
// call both pools are merged and sorted by priority.
type Registry struct {
	mu       sync.RWMutex
	request  []Registered[RequestInterceptor]
	response []Registered[ResponseInterceptor]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

var globalRegistry = NewRegistry()

// GlobalRegistry returns the process-wide registry shared by clients that
// were not given one with WithGlobalRegistry.
func GlobalRegistry() *Registry {
	return globalRegistry
}

// UseRequest registers a request interceptor.
//
// Example:
//
//	h := registry.UseRequest(httpclient.AuthBearerInterceptor(token),
//	    httpclient.WithPriority(httpclient.PriorityHigh),
//	    httpclient.WithGroup("auth"),
//	)
//	defer h.Eject()
func (r *Registry) UseRequest(i RequestInterceptor, opts ...InterceptorOption) Handle {
	reg := newRegistration(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Registered[RequestInterceptor]{
		ID:          uuid.NewString(),
		Priority:    reg.priority,
		Group:       reg.group,
		Interceptor: i,
	}
	r.request = append(r.request, entry)

	return Handle{ID: entry.ID, eject: func() { r.eject(entry.ID) }}
}

// UseResponse registers a response interceptor.
func (r *Registry) UseResponse(i ResponseInterceptor, opts ...InterceptorOption) Handle {
	reg := newRegistration(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Registered[ResponseInterceptor]{
		ID:          uuid.NewString(),
		Priority:    reg.priority,
		Group:       reg.group,
		Interceptor: i,
	}
	r.response = append(r.response, entry)

	return Handle{ID: entry.ID, eject: func() { r.eject(entry.ID) }}
}

// Eject removes the interceptor with the given id. It reports whether
// anything was removed.
func (r *Registry) Eject(id string) bool {
	return r.eject(id)
}

func (r *Registry) eject(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.request) + len(r.response)
	r.request = slices.DeleteFunc(r.request, func(e Registered[RequestInterceptor]) bool {
		return e.ID == id
	})
	r.response = slices.DeleteFunc(r.response, func(e Registered[ResponseInterceptor]) bool {
		return e.ID == id
	})
	return len(r.request)+len(r.response) < before
}

// Clear removes all interceptors, or only those tagged with one of the
// given groups.
func (r *Registry) Clear(groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(groups) == 0 {
		r.request = nil
		r.response = nil
		return
	}

	r.request = slices.DeleteFunc(r.request, func(e Registered[RequestInterceptor]) bool {
		return slices.Contains(groups, e.Group)
	})
	r.response = slices.DeleteFunc(r.response, func(e Registered[ResponseInterceptor]) bool {
		return slices.Contains(groups, e.Group)
	})
}

// Snapshot returns a shallow copy of the registered interceptors.
func (r *Registry) Snapshot() InterceptorSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return InterceptorSnapshot{
		Request:  slices.Clone(r.request),
		Response: slices.Clone(r.response),
	}
}

// Len returns the number of registered interceptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.request) + len(r.response)
}

func newRegistration(opts []InterceptorOption) registration {
	reg := registration{priority: PriorityMedium}
	for _, opt := range opts {
		opt(&reg)
	}
	return reg
}

// mergeChains concatenates the global and instance pools and sorts the
// result by descending priority. Ties keep global entries first, then
// registration order.
func mergeChains[T any](global, instance []Registered[T]) []Registered[T] {
	merged := make([]Registered[T], 0, len(global)+len(instance))
	merged = append(merged, global...)
	merged = append(merged, instance...)
	slices.SortStableFunc(merged, func(a, b Registered[T]) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return merged
}

// requestChain returns the merged request chain for one call.
func requestChain(global, instance *Registry) []Registered[RequestInterceptor] {
	var g, i []Registered[RequestInterceptor]
	if global != nil {
		g = global.Snapshot().Request
	}
	if instance != nil {
		i = instance.Snapshot().Request
	}
	return mergeChains(g, i)
}

// responseChain returns the merged response chain for one call.
func responseChain(global, instance *Registry) []Registered[ResponseInterceptor] {
	var g, i []Registered[ResponseInterceptor]
	if global != nil {
		g = global.Snapshot().Response
	}
	if instance != nil {
		i = instance.Snapshot().Response
	}
	return mergeChains(g, i)
}

// runRequestChain applies the request interceptors in order.
func runRequestChain(
	ctx context.Context,
	chain []Registered[RequestInterceptor],
	cfg *RequestConfig,
	logger zerolog.Logger,
) (*RequestConfig, error) {
	for i, entry := range chain {
		if entry.Interceptor.OnRequest == nil {
			continue
		}
		next, err := callRequestInterceptor(ctx, entry.Interceptor.OnRequest, cfg)
		if err != nil {
			handlers := make([]func(context.Context, error) error, 0, len(chain)-i)
			for j := len(chain) - 1; j >= i; j-- {
				handlers = append(handlers, chain[j].Interceptor.OnRequestError)
			}
			return nil, walkErrorHandlers(ctx, handlers, err, logger, "request")
		}
		if next != nil {
			cfg = next
		}
	}
	return cfg, nil
}

// runResponseChain applies the response interceptors in order.
func runResponseChain(
	ctx context.Context,
	chain []Registered[ResponseInterceptor],
	resp *Response,
	logger zerolog.Logger,
) (*Response, error) {
	for i, entry := range chain {
		if entry.Interceptor.OnResponse == nil {
			continue
		}
		next, err := callResponseInterceptor(ctx, entry.Interceptor.OnResponse, resp)
		if err != nil {
			handlers := make([]func(context.Context, error) error, 0, len(chain)-i)
			for j := len(chain) - 1; j >= i; j-- {
				handlers = append(handlers, chain[j].Interceptor.OnResponseError)
			}
			return nil, walkErrorHandlers(ctx, handlers, err, logger, "response")
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// runResponseErrorHandlers offers a failure that did not come from a
// response interceptor to every OnResponseError handler of chain, last
// to first.
func runResponseErrorHandlers(
	ctx context.Context,
	chain []Registered[ResponseInterceptor],
	err error,
	logger zerolog.Logger,
) error {
	handlers := make([]func(context.Context, error) error, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		handlers = append(handlers, chain[i].Interceptor.OnResponseError)
	}
	return walkErrorHandlers(ctx, handlers, err, logger, "response")
}

// walkErrorHandlers offers err to each handler in turn. A handler that
// returns non-nil replaces the error; a handler that panics is logged and
// skipped.
func walkErrorHandlers(
	ctx context.Context,
	handlers []func(context.Context, error) error,
	err error,
	logger zerolog.Logger,
	phase string,
) error {
	for _, h := range handlers {
		if h == nil {
			continue
		}
		out, panicErr := callErrorHandler(ctx, h, err)
		if panicErr != nil {
			logger.Warn().
				Err(panicErr).
				Str("phase", phase).
				AnErr("original_error", err).
				Msg("interceptor error handler failed")
			continue
		}
		if out != nil {
			err = out
		}
	}
	return err
}

func callRequestInterceptor(
	ctx context.Context,
	fn func(context.Context, *RequestConfig) (*RequestConfig, error),
	cfg *RequestConfig,
) (next *RequestConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("httpclient: request interceptor panic: %v", r)
		}
	}()
	return fn(ctx, cfg)
}

func callResponseInterceptor(
	ctx context.Context,
	fn func(context.Context, *Response) (*Response, error),
	resp *Response,
) (next *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("httpclient: response interceptor panic: %v", r)
		}
	}()
	return fn(ctx, resp)
}

func callErrorHandler(
	ctx context.Context,
	h func(context.Context, error) error,
	err error,
) (out error, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			out, panicErr = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, err), nil
}

// =============================================================================
// Built-in Interceptors
// =============================================================================

// setHeader returns a copy of cfg with the header set.
func setHeader(cfg *RequestConfig, key, value string) *RequestConfig {
	next := cfg.Clone()
	next.SetHeader(key, value)
	return next
}

// AuthBearerInterceptor adds a static Bearer token to every request.
//
// Example:
//
//	client.UseRequestInterceptor(httpclient.AuthBearerInterceptor("my-token"))
func AuthBearerInterceptor(token string) RequestInterceptor {
	return RequestInterceptor{
		OnRequest: func(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			return setHeader(cfg, "Authorization", "Bearer "+token), nil
		},
	}
}

// AuthBearerFuncInterceptor fetches a Bearer token per request. Use it for
// tokens that refresh.
//
// Example:
//
//	client.UseRequestInterceptor(httpclient.AuthBearerFuncInterceptor(
//	    func(ctx context.Context) (string, error) {
//	        return tokenSource.Token(ctx)
//	    },
//	))
func AuthBearerFuncInterceptor(tokenFunc func(ctx context.Context) (string, error)) RequestInterceptor {
	return RequestInterceptor{
		OnRequest: func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			token, err := tokenFunc(ctx)
			if err != nil {
				return nil, fmt.Errorf("httpclient: fetch auth token: %w", err)
			}
			return setHeader(cfg, "Authorization", "Bearer "+token), nil
		},
	}
}

// APIKeyInterceptor adds an API key header to every request.
func APIKeyInterceptor(headerName, apiKey string) RequestInterceptor {
	return RequestInterceptor{
		OnRequest: func(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			return setHeader(cfg, headerName, apiKey), nil
		},
	}
}

// CorrelationIDInterceptor adds a correlation id header when the request
// does not carry one. A nil idFunc generates UUIDs.
func CorrelationIDInterceptor(headerName string, idFunc func() string) RequestInterceptor {
	if idFunc == nil {
		idFunc = uuid.NewString
	}
	return RequestInterceptor{
		OnRequest: func(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			if cfg.Header(headerName) != "" {
				return nil, nil
			}
			return setHeader(cfg, headerName, idFunc()), nil
		},
	}
}

// UserAgentInterceptor sets the User-Agent header.
func UserAgentInterceptor(userAgent string) RequestInterceptor {
	return RequestInterceptor{
		OnRequest: func(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			return setHeader(cfg, "User-Agent", userAgent), nil
		},
	}
}

// EnvelopeError is the business failure carried by an API envelope.
type EnvelopeError struct {
	Code    int
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// envelope is the {code, data, message} wrapper used by many JSON APIs.
type envelope struct {
	Code    *int            `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// EnvelopeInterceptor unwraps {"code", "data", "message"} payloads.
//
// When the code is one of successCodes (default 0 and 200) the response
// payload is replaced by the data field. Any other code fails the call
// with an *HTTPError that wraps an *EnvelopeError. Payloads that are not
// envelopes pass through unchanged.
func EnvelopeInterceptor(successCodes ...int) ResponseInterceptor {
	if len(successCodes) == 0 {
		successCodes = []int{0, 200}
	}
	return ResponseInterceptor{
		OnResponse: func(_ context.Context, resp *Response) (*Response, error) {
			var env envelope
			if err := json.Unmarshal(resp.Data, &env); err != nil || env.Code == nil {
				return nil, nil
			}

			if !slices.Contains(successCodes, *env.Code) {
				httpErr := NewHTTPError(resp.StatusCode, resp)
				httpErr.Message = env.Message
				httpErr.cause = &EnvelopeError{Code: *env.Code, Message: env.Message}
				return nil, httpErr
			}

			next := resp.clone()
			next.Data = []byte(env.Data)
			return next, nil
		},
	}
}
