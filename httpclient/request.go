package httpclient

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// RequestBuilder provides a fluent API for constructing requests.
//
// Create a RequestBuilder using Client.Request():
//
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    Body(user).
//	    Post(ctx)
type RequestBuilder struct {
	client        *Client
	operationName string
	path          string
	pathParams    map[string]string
	queryParams   url.Values
	headers       map[string]string
	body          any
	bodyErr       error
	timeout       time.Duration
	retry         *RetryConfig
	cache         *CacheOptions
	dedupe        bool
	credentials   bool
	metadata      map[string]any
	hooks         Hooks
	result        any
	errorResult   any

	fileUploads []FileUpload
	formFields  map[string]string
	onProgress  ProgressFunc
}

// Request starts a request named operationName. The name labels spans
// and logs.
//
// Example:
//
//	var user User
//	_, err := client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", "42").
//	    Decode(&user).
//	    Get(ctx)
func (c *Client) Request(operationName string) *RequestBuilder {
	return &RequestBuilder{
		client:        c,
		operationName: operationName,
		pathParams:    make(map[string]string),
		headers:       make(map[string]string),
	}
}

// Path sets the request path.
//
// The path is resolved against the client's base URL. Path parameters
// can be specified using {name} syntax and filled with PathParam().
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.path = path
	return rb
}

// PathParam sets a path parameter value. The value is path-escaped.
//
// Example:
//
//	client.Request("GetPost").
//	    Path("/users/{id}/posts/{postId}").
//	    PathParam("id", userID).
//	    PathParam("postId", postID).
//	    Get(ctx)
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	rb.pathParams[key] = value
	return rb
}

// Query sets a single query parameter.
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	if rb.queryParams == nil {
		rb.queryParams = make(url.Values)
	}
	rb.queryParams.Set(key, value)
	return rb
}

// Queries sets multiple query parameters.
func (rb *RequestBuilder) Queries(params map[string]string) *RequestBuilder {
	for k, v := range params {
		rb.Query(k, v)
	}
	return rb
}

// Header sets a single request header.
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	setHeaderValue(rb.headers, key, value)
	return rb
}

// Headers sets multiple request headers.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for k, v := range headers {
		setHeaderValue(rb.headers, k, v)
	}
	return rb
}

// Body sets the request body. The adapter picks the encoding:
//   - struct/map: JSON (Content-Type: application/json)
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - io.Reader: passthrough, sent once and never replayed on retry
//   - url.Values: form encoded
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	rb.body = v
	return rb
}

// BodyJSON encodes the body as JSON now, regardless of its type.
func (rb *RequestBuilder) BodyJSON(v any) *RequestBuilder {
	return rb.encoded(v, json.Marshal, "application/json")
}

// BodyXML encodes the body as XML.
//
// Example:
//
//	client.Request("CreateOrder").
//	    BodyXML(order).
//	    Post(ctx, "/orders")
func (rb *RequestBuilder) BodyXML(v any) *RequestBuilder {
	return rb.encoded(v, xml.Marshal, "application/xml")
}

func (rb *RequestBuilder) encoded(v any, marshal func(any) ([]byte, error), contentType string) *RequestBuilder {
	if v == nil {
		return rb
	}
	data, err := marshal(v)
	if err != nil {
		rb.bodyErr = err
		return rb
	}
	rb.body = data
	return rb.Header("Content-Type", contentType)
}

// BodyForm sets form data as the request body.
//
// Example:
//
//	client.Request("Login").
//	    BodyForm(map[string]string{
//	        "username": "john",
//	        "password": "secret",
//	    }).
//	    Post(ctx, "/login")
func (rb *RequestBuilder) BodyForm(data map[string]string) *RequestBuilder {
	values := make(url.Values, len(data))
	for k, v := range data {
		values.Set(k, v)
	}
	rb.body = values
	return rb
}

// Decode sets the target for the payload of a successful response.
//
// Example:
//
//	var users []User
//	_, err := client.Request("GetUsers").
//	    Decode(&users).
//	    Get(ctx, "/users")
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.result = v
	return rb
}

// DecodeError sets the target for the payload of an *HTTPError response.
//
// Example:
//
//	var apiErr APIError
//	_, err := client.Request("CreateUser").
//	    Decode(&user).
//	    DecodeError(&apiErr).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) DecodeError(v any) *RequestBuilder {
	rb.errorResult = v
	return rb
}

// Timeout overrides the per-call timeout.
func (rb *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	rb.timeout = d
	return rb
}

// Retry overrides the retry policy for this call.
func (rb *RequestBuilder) Retry(rc RetryConfig) *RequestBuilder {
	rb.retry = &rc
	return rb
}

// Cache enables response caching for this GET with the given TTL. A zero
// TTL uses the client default.
func (rb *RequestBuilder) Cache(ttl time.Duration) *RequestBuilder {
	rb.cache = &CacheOptions{Enabled: true, TTL: ttl}
	return rb
}

// CacheOptions sets the full cache options for this call.
func (rb *RequestBuilder) CacheOptions(co CacheOptions) *RequestBuilder {
	rb.cache = &co
	return rb
}

// Dedupe collapses concurrent identical GETs into one transport call, even
// when caching is off.
func (rb *RequestBuilder) Dedupe() *RequestBuilder {
	rb.dedupe = true
	return rb
}

// WithCredentials sends and stores cookies for this call.
func (rb *RequestBuilder) WithCredentials() *RequestBuilder {
	rb.credentials = true
	return rb
}

// Metadata attaches a value visible to interceptors.
func (rb *RequestBuilder) Metadata(key string, value any) *RequestBuilder {
	if rb.metadata == nil {
		rb.metadata = make(map[string]any)
	}
	rb.metadata[key] = value
	return rb
}

// Hooks sets the lifecycle hooks of this call.
func (rb *RequestBuilder) Hooks(h Hooks) *RequestBuilder {
	rb.hooks = h
	return rb
}

// File adds a file from disk to a multipart upload.
//
// Example:
//
//	client.Request("UploadReport").
//	    File("document", "/tmp/report.pdf").
//	    FormField("title", "Q4").
//	    Upload(ctx, "/documents")
func (rb *RequestBuilder) File(fieldName, path string) *RequestBuilder {
	rb.fileUploads = append(rb.fileUploads, FileFromPath(fieldName, path))
	return rb
}

// FileReader adds a file read from r to a multipart upload.
func (rb *RequestBuilder) FileReader(fieldName, fileName string, r io.Reader) *RequestBuilder {
	rb.fileUploads = append(rb.fileUploads, FileUpload{
		FieldName: fieldName,
		FileName:  fileName,
		Reader:    r,
	})
	return rb
}

// FormField adds a form field to a multipart upload.
func (rb *RequestBuilder) FormField(key, value string) *RequestBuilder {
	if rb.formFields == nil {
		rb.formFields = make(map[string]string)
	}
	rb.formFields[key] = value
	return rb
}

// OnProgress sets the progress callback of an upload or download.
func (rb *RequestBuilder) OnProgress(fn ProgressFunc) *RequestBuilder {
	rb.onProgress = fn
	return rb
}

// Get executes a GET request.
//
// Example:
//
//	resp, err := client.Request("GetUsers").Get(ctx, "/users")
func (rb *RequestBuilder) Get(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodGet, path)
}

// Post executes a POST request.
func (rb *RequestBuilder) Post(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPost, path)
}

// Put executes a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPut, path)
}

// Patch executes a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPatch, path)
}

// Delete executes a DELETE request.
func (rb *RequestBuilder) Delete(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodDelete, path)
}

// Head executes a HEAD request.
func (rb *RequestBuilder) Head(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodHead, path)
}

// Options executes an OPTIONS request.
func (rb *RequestBuilder) Options(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodOptions, path)
}

// Upload sends the files and form fields added with File, FileReader and
// FormField as multipart/form-data with POST.
func (rb *RequestBuilder) Upload(ctx context.Context, path ...string) (*Response, error) {
	opts, err := rb.options(http.MethodPost, path)
	if err != nil {
		return nil, err
	}
	opts.upload = &UploadOptions{
		Files:      rb.fileUploads,
		FormFields: rb.formFields,
		OnProgress: rb.onProgress,
	}
	return rb.finish(rb.client.Do(ctx, opts))
}

// Download streams the body of a GET to w.
func (rb *RequestBuilder) Download(ctx context.Context, w io.Writer, path ...string) (*Response, error) {
	opts, err := rb.options(http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	opts.download = &downloadTarget{writer: w, onProgress: rb.onProgress}
	return rb.finish(rb.client.Do(ctx, opts))
}

func (rb *RequestBuilder) execute(ctx context.Context, method string, path []string) (*Response, error) {
	opts, err := rb.options(method, path)
	if err != nil {
		return nil, err
	}
	if len(rb.fileUploads) > 0 || len(rb.formFields) > 0 {
		opts.upload = &UploadOptions{
			Files:      rb.fileUploads,
			FormFields: rb.formFields,
			OnProgress: rb.onProgress,
		}
	}
	return rb.finish(rb.client.Do(ctx, opts))
}

// options converts the builder state into RequestOptions.
func (rb *RequestBuilder) options(method string, path []string) (RequestOptions, error) {
	if len(path) > 0 {
		rb.path = path[0]
	}
	if rb.bodyErr != nil {
		return RequestOptions{}, NewNetworkError(errors.Join(errors.New("encode request body"), rb.bodyErr))
	}

	p := rb.path
	for k, v := range rb.pathParams {
		p = strings.ReplaceAll(p, "{"+k+"}", url.PathEscape(v))
	}

	var params map[string]any
	if len(rb.queryParams) > 0 {
		params = make(map[string]any, len(rb.queryParams))
		for k, v := range rb.queryParams {
			params[k] = v
		}
	}

	return RequestOptions{
		Method:        method,
		URL:           p,
		Params:        params,
		Headers:       rb.headers,
		Body:          rb.body,
		Timeout:       rb.timeout,
		Credentials:   rb.credentials,
		Metadata:      rb.metadata,
		Retry:         rb.retry,
		Cache:         rb.cache,
		Dedupe:        rb.dedupe,
		Hooks:         rb.hooks,
		OperationName: rb.operationName,
	}, nil
}

// finish decodes into the Decode or DecodeError targets.
func (rb *RequestBuilder) finish(resp *Response, err error) (*Response, error) {
	if err != nil {
		var httpErr *HTTPError
		if rb.errorResult != nil && errors.As(err, &httpErr) && httpErr.Response != nil {
			// The HTTPError is more useful to callers than a decode failure.
			_ = httpErr.Response.Decode(rb.errorResult)
		}
		return resp, err
	}
	if rb.result != nil {
		if decodeErr := resp.Decode(rb.result); decodeErr != nil {
			return resp, decodeErr
		}
	}
	return resp, nil
}
