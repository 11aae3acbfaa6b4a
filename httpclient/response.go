package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"maps"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// Response is the normalized result of a call.
//
// Adapters produce a Response from the raw transport response; response
// interceptors may replace it. Callers usually unwrap the payload with As
// or Fetch:
//
//	users, err := httpclient.As[[]User](client.Get(ctx, "/users", nil))
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers holds the response headers with canonical keys.
	Headers map[string]string

	// Data is the raw response payload.
	Data []byte

	// ErrMsg is an optional transport- or server-supplied error message.
	ErrMsg string

	// Cookies are the cookies set by the response.
	Cookies []*http.Cookie

	// FromCache is true when the response was served from the request cache.
	FromCache bool

	// Config is the request config that produced this response.
	Config *RequestConfig
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Header returns the first value of the named header, matched case-insensitively.
func (r *Response) Header(key string) string {
	if v, ok := r.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// String returns the payload as a string.
func (r *Response) String() string {
	return string(r.Data)
}

// Decode decodes the payload into v based on the Content-Type header.
// JSON is assumed when the content type is missing or unknown.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return decodeBody(r.Data, r.Header("Content-Type"), v)
}

// SetJSON replaces the payload with the JSON encoding of v.
// Response interceptors use it to rewrite payloads.
func (r *Response) SetJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

// clone returns a copy that does not share maps or payload with r.
func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.Data = bytes.Clone(r.Data)
	if r.Cookies != nil {
		c.Cookies = append([]*http.Cookie(nil), r.Cookies...)
	}
	return &c
}

// decodeBody decodes the body based on content type.
func decodeBody(body []byte, contentType string, target any) error {
	isXML := strings.Contains(contentType, "application/xml") ||
		strings.Contains(contentType, "text/xml")
	if isXML {
		return xml.Unmarshal(body, target)
	}
	return json.Unmarshal(body, target)
}

// As unwraps the payload of a response into T.
//
// []byte and string targets receive the raw payload; any other type is
// decoded with Response.Decode. Errors are passed through unchanged, so As
// composes directly with the client verbs:
//
//	user, err := httpclient.As[User](client.Get(ctx, "/users/1", nil))
func As[T any](resp *Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if resp == nil {
		return out, nil
	}

	switch p := any(&out).(type) {
	case *[]byte:
		*p = bytes.Clone(resp.Data)
	case *string:
		*p = string(resp.Data)
	case **Response:
		*p = resp
	default:
		if decodeErr := resp.Decode(&out); decodeErr != nil {
			return out, fmt.Errorf("httpclient: decode response: %w", decodeErr)
		}
	}
	return out, nil
}

// Fetch runs the request and unwraps the payload into T.
//
// Example:
//
//	result, err := httpclient.Fetch[SearchResult](ctx, client, httpclient.RequestOptions{
//	    Method: httpclient.MethodGet,
//	    URL:    "/search",
//	    Params: map[string]any{"q": "shoes"},
//	})
func Fetch[T any](ctx context.Context, c *Client, opts RequestOptions) (T, error) {
	return As[T](c.Do(ctx, opts))
}
