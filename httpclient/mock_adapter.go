package httpclient

import (
	"context"
	"errors"
	"io"
	"net/url"
	"regexp"
	"sync"
)

// MockAdapter provides a configurable Adapter for testing.
// It allows stubbing responses and verifying request expectations, and
// supports uploads and downloads.
//
// Example:
//
//	mock := httpclient.NewMockAdapter().
//	    StubPath("/users/1", 200, `{"id":1}`).
//	    StubJSON(404, `{"error":"not found"}`)
//	client := httpclient.New(httpclient.WithAdapter(mock))
type MockAdapter struct {
	mu          sync.RWMutex
	stubs       []adapterStub
	queue       []queuedReply
	defaultResp *Response
	defaultErr  error
	requests    []*RequestConfig
	uploads     []*MultipartBody
	requestHook func(context.Context, *RequestConfig)
}

type adapterStub struct {
	matcher  func(*RequestConfig) bool
	response *Response
	err      error
}

type queuedReply struct {
	response *Response
	err      error
}

var (
	_ Adapter    = (*MockAdapter)(nil)
	_ Uploader   = (*MockAdapter)(nil)
	_ Downloader = (*MockAdapter)(nil)
)

// NewMockAdapter creates a new MockAdapter for testing.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func newStubResponse(statusCode int, body string, contentType string) *Response {
	headers := map[string]string{}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    headers,
		Data:       []byte(body),
	}
}

// StubResponse stubs all requests to return the given response.
func (m *MockAdapter) StubResponse(statusCode int, body string) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = newStubResponse(statusCode, body, "")
	return m
}

// StubJSON stubs all requests to return the given JSON body.
func (m *MockAdapter) StubJSON(statusCode int, body string) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = newStubResponse(statusCode, body, "application/json")
	return m
}

// StubError stubs all requests to return the given error.
func (m *MockAdapter) StubError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultErr = err
	return m
}

// StubPath stubs requests matching the URL path.
func (m *MockAdapter) StubPath(path string, statusCode int, body string) *MockAdapter {
	return m.StubFunc(func(cfg *RequestConfig) bool {
		return urlPath(cfg.URL) == path
	}, statusCode, body)
}

// StubPathRegex stubs requests whose URL path matches pattern.
func (m *MockAdapter) StubPathRegex(pattern string, statusCode int, body string) *MockAdapter {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(cfg *RequestConfig) bool {
		return re.MatchString(urlPath(cfg.URL))
	}, statusCode, body)
}

// StubMethod stubs requests with the given method.
func (m *MockAdapter) StubMethod(method string, statusCode int, body string) *MockAdapter {
	return m.StubFunc(func(cfg *RequestConfig) bool {
		return cfg.Method == method
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate to return the given response.
func (m *MockAdapter) StubFunc(
	matcher func(*RequestConfig) bool,
	statusCode int,
	body string,
) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, adapterStub{
		matcher:  matcher,
		response: newStubResponse(statusCode, body, "application/json"),
	})
	return m
}

// StubFuncError stubs requests matching the predicate to return the given error.
func (m *MockAdapter) StubFuncError(matcher func(*RequestConfig) bool, err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, adapterStub{matcher: matcher, err: err})
	return m
}

// Enqueue queues a one-shot reply. Queued replies are consumed in order
// before stubs are consulted, which makes retry sequences easy to script:
//
//	mock.Enqueue(nil, errors.New("connection reset")).
//	    Enqueue(&httpclient.Response{StatusCode: 200}, nil)
func (m *MockAdapter) Enqueue(resp *Response, err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queuedReply{response: resp, err: err})
	return m
}

// EnqueueStatus queues a one-shot reply with the given status and body.
func (m *MockAdapter) EnqueueStatus(statusCode int, body string) *MockAdapter {
	return m.Enqueue(newStubResponse(statusCode, body, "application/json"), nil)
}

// OnRequest sets a hook that is called for each request before a reply
// is chosen. The hook may block, e.g. to hold a call in flight.
func (m *MockAdapter) OnRequest(fn func(ctx context.Context, cfg *RequestConfig)) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// Request implements Adapter.
func (m *MockAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, cfg.Clone())
	hook := m.requestHook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.queue) > 0 {
		reply := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return m.reply(cfg, reply.response, reply.err)
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	// First matching stub wins.
	for _, s := range m.stubs {
		if s.matcher(cfg) {
			return m.reply(cfg, s.response, s.err)
		}
	}

	if m.defaultErr != nil {
		return nil, m.defaultErr
	}
	if m.defaultResp != nil {
		return m.reply(cfg, m.defaultResp, nil)
	}

	return nil, errors.New("no stub found for request: " + cfg.Method + " " + cfg.URL)
}

func (m *MockAdapter) reply(cfg *RequestConfig, resp *Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	out := resp.clone()
	if out != nil {
		out.Config = cfg
		if out.Headers == nil {
			out.Headers = map[string]string{}
		}
	}
	return out, nil
}

// Upload implements Uploader. The payload is recorded and the reply is
// chosen like Request.
func (m *MockAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	if _, err := io.Copy(io.Discard, body.Reader()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.uploads = append(m.uploads, body)
	m.mu.Unlock()

	withType := cfg.Clone()
	withType.SetHeader("Content-Type", body.ContentType)
	return m.Request(ctx, withType)
}

// Download implements Downloader. The stubbed body of a 2xx reply is
// written to w.
func (m *MockAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	resp, err := m.Request(ctx, cfg)
	if err != nil || resp == nil || !resp.IsSuccess() {
		return resp, err
	}

	pw := &progressWriter{w: w, total: int64(len(resp.Data)), onProgress: onProgress}
	if _, err := pw.Write(resp.Data); err != nil {
		return nil, err
	}
	resp.Data = nil
	return resp, nil
}

// Requests returns copies of all request configs seen by this adapter.
func (m *MockAdapter) Requests() []*RequestConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*RequestConfig{}, m.requests...)
}

// Uploads returns all multipart payloads seen by this adapter.
func (m *MockAdapter) Uploads() []*MultipartBody {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*MultipartBody{}, m.uploads...)
}

// RequestCount returns the number of requests made.
func (m *MockAdapter) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockAdapter) LastRequest() *RequestConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.uploads = nil
	m.stubs = nil
	m.queue = nil
	m.defaultResp = nil
	m.defaultErr = nil
	m.requestHook = nil
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
