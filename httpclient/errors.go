package httpclient

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// ErrorKind tags the variant of a RequestError.
type ErrorKind string

const (
	// KindHTTP marks a response whose status fell outside [200, 300).
	KindHTTP ErrorKind = "http"

	// KindNetwork marks a transport failure where no response was received.
	KindNetwork ErrorKind = "network"

	// KindTimeout marks a transport call that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindCancel marks a request aborted by the caller.
	KindCancel ErrorKind = "cancel"
)

// Sentinel errors matched by errors.Is against the taxonomy types.
var (
	ErrHTTP    = errors.New("http error")
	ErrNetwork = errors.New("network error")
	ErrTimeout = errors.New("request timeout")
	ErrCancel  = errors.New("request canceled")

	// ErrInsecureURL is wrapped by the 403 HTTPError returned when a URL
	// fails the security policy.
	ErrInsecureURL = errors.New("insecure request url")

	// ErrUnsupportedCapability is returned when Upload or Download is called
	// on a client whose adapter does not implement the capability.
	ErrUnsupportedCapability = errors.New("adapter does not support operation")

	// ErrInvalidURL is wrapped when a call URL cannot be resolved to an
	// absolute URL.
	ErrInvalidURL = errors.New("invalid request url")

	// ErrInvalidBody is wrapped when a request body cannot be encoded or
	// read. Calls failing with it are never retried.
	ErrInvalidBody = errors.New("invalid request body")
)

// ErrorContext is the diagnostic context carried by every RequestError.
type ErrorContext struct {
	Timestamp time.Time
	RequestID string
	Platform  Platform
	Method    string
	URL       string

	// Retries is the number of retries performed before the error surfaced.
	Retries int
}

// RequestError is the closed set of errors surfaced by Client.
//
// The concrete types are *HTTPError, *NetworkError, *TimeoutError and
// *CancelError. Use a type switch to handle them:
//
//	var reqErr httpclient.RequestError
//	if errors.As(err, &reqErr) {
//	    switch e := reqErr.(type) {
//	    case *httpclient.HTTPError:
//	        log.Println("status", e.StatusCode)
//	    case *httpclient.TimeoutError:
//	        log.Println("timed out after", e.Timeout)
//	    }
//	}
type RequestError interface {
	error
	Kind() ErrorKind
	Details() *ErrorContext
	requestError()
}

// HTTPError is returned when a response was received with a status code
// outside [200, 300), or when the request was rejected before dispatch as an
// authorization failure.
type HTTPError struct {
	ErrorContext
	StatusCode int
	Message    string

	// Response is the full normalized response, nil for pre-dispatch rejections.
	Response *Response

	cause error
}

// NewHTTPError creates an HTTPError for the given status and response.
func NewHTTPError(statusCode int, resp *Response) *HTTPError {
	msg := fmt.Sprintf("request failed with status %d", statusCode)
	if resp != nil && resp.ErrMsg != "" {
		msg = resp.ErrMsg
	}
	return &HTTPError{
		ErrorContext: ErrorContext{Timestamp: time.Now()},
		StatusCode:   statusCode,
		Message:      msg,
		Response:     resp,
	}
}

func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("http %d: %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error                { return e.cause }
func (e *HTTPError) Is(target error) bool         { return target == ErrHTTP }
func (e *HTTPError) Kind() ErrorKind              { return KindHTTP }
func (e *HTTPError) Details() *ErrorContext       { return &e.ErrorContext }
func (e *HTTPError) MarshalJSON() ([]byte, error) { return MarshalRequestError(e) }
func (*HTTPError) requestError()                  {}

// NetworkError is returned when the transport failed without a response.
type NetworkError struct {
	ErrorContext
	Message string
	cause   error
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(cause error) *NetworkError {
	msg := "network error"
	if cause != nil {
		msg = cause.Error()
	}
	return &NetworkError{
		ErrorContext: ErrorContext{Timestamp: time.Now()},
		Message:      msg,
		cause:        cause,
	}
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("network error: %s %s: %s", e.Method, e.URL, e.Message)
	}
	return "network error: " + e.Message
}

func (e *NetworkError) Unwrap() error                { return e.cause }
func (e *NetworkError) Is(target error) bool         { return target == ErrNetwork }
func (e *NetworkError) Kind() ErrorKind              { return KindNetwork }
func (e *NetworkError) Details() *ErrorContext       { return &e.ErrorContext }
func (e *NetworkError) MarshalJSON() ([]byte, error) { return MarshalRequestError(e) }
func (*NetworkError) requestError()                  {}

// TimeoutError is returned when the transport exceeded the configured timeout.
type TimeoutError struct {
	ErrorContext
	Timeout time.Duration
	cause   error
}

// NewTimeoutError wraps a deadline failure.
func NewTimeoutError(timeout time.Duration, cause error) *TimeoutError {
	return &TimeoutError{
		ErrorContext: ErrorContext{Timestamp: time.Now()},
		Timeout:      timeout,
		cause:        cause,
	}
}

func (e *TimeoutError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("request timeout after %s: %s %s", e.Timeout, e.Method, e.URL)
	}
	return fmt.Sprintf("request timeout after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error                { return e.cause }
func (e *TimeoutError) Is(target error) bool         { return target == ErrTimeout }
func (e *TimeoutError) Kind() ErrorKind              { return KindTimeout }
func (e *TimeoutError) Details() *ErrorContext       { return &e.ErrorContext }
func (e *TimeoutError) MarshalJSON() ([]byte, error) { return MarshalRequestError(e) }
func (*TimeoutError) requestError()                  {}

// CancelError is returned when the caller canceled the request context.
type CancelError struct {
	ErrorContext
	cause error
}

// NewCancelError wraps a cancellation.
func NewCancelError(cause error) *CancelError {
	return &CancelError{
		ErrorContext: ErrorContext{Timestamp: time.Now()},
		cause:        cause,
	}
}

func (e *CancelError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("request canceled: %s %s", e.Method, e.URL)
	}
	return "request canceled"
}

func (e *CancelError) Unwrap() error                { return e.cause }
func (e *CancelError) Is(target error) bool         { return target == ErrCancel }
func (e *CancelError) Kind() ErrorKind              { return KindCancel }
func (e *CancelError) Details() *ErrorContext       { return &e.ErrorContext }
func (e *CancelError) MarshalJSON() ([]byte, error) { return MarshalRequestError(e) }
func (*CancelError) requestError()                  {}

// errorJSON is the wire shape shared by all RequestError variants.
type errorJSON struct {
	Name       string    `json:"name"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"requestId,omitempty"`
	Platform   Platform  `json:"platform,omitempty"`
	Method     string    `json:"method,omitempty"`
	URL        string    `json:"url,omitempty"`
	Retries    int       `json:"retries,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	TimeoutMS  int64     `json:"timeoutMs,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// MarshalRequestError serializes any RequestError variant to JSON.
func MarshalRequestError(err RequestError) ([]byte, error) {
	d := err.Details()
	out := errorJSON{
		Kind:      err.Kind(),
		Message:   err.Error(),
		Timestamp: d.Timestamp,
		RequestID: d.RequestID,
		Platform:  d.Platform,
		Method:    d.Method,
		URL:       d.URL,
		Retries:   d.Retries,
	}

	switch e := err.(type) {
	case *HTTPError:
		out.Name = "HttpError"
		out.Message = e.Message
		out.StatusCode = e.StatusCode
	case *NetworkError:
		out.Name = "NetworkError"
		out.Message = e.Message
	case *TimeoutError:
		out.Name = "TimeoutError"
		out.TimeoutMS = e.Timeout.Milliseconds()
	case *CancelError:
		out.Name = "CancelError"
	default:
		return nil, fmt.Errorf("httpclient: unknown request error %T", err)
	}

	if cause := errors.Unwrap(err); cause != nil {
		out.Cause = cause.Error()
	}

	return json.Marshal(out)
}

// enrichError fills the diagnostic context of a RequestError from the
// request config. Fields already set are kept.
func enrichError(err error, cfg *RequestConfig, platform Platform, retries int) {
	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		return
	}
	d := reqErr.Details()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	if cfg != nil {
		if d.RequestID == "" {
			d.RequestID = cfg.RequestID
		}
		if d.Method == "" {
			d.Method = cfg.Method
		}
		if d.URL == "" {
			d.URL = cfg.URL
		}
	}
	if d.Platform == "" {
		d.Platform = platform
	}
	if retries > d.Retries {
		d.Retries = retries
	}
}
