package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultShouldRetry retries network and timeout failures and 5xx
// responses. Cancellations, 4xx responses, open circuits, permanent
// transport failures (TLS verification, unknown host) and errors outside
// the RequestError taxonomy are never retried.
func DefaultShouldRetry(err error, _ int) bool {
	if err == nil {
		return false
	}

	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		return false
	}

	switch e := reqErr.(type) {
	case *HTTPError:
		return e.StatusCode >= 500
	case *TimeoutError:
		return true
	case *NetworkError:
		if errors.Is(e, gobreaker.ErrOpenState) || errors.Is(e, gobreaker.ErrTooManyRequests) {
			return false
		}
		return !isPermanentError(e.cause)
	default:
		return false
	}
}

// RetryOnStatus retries network and timeout failures like
// DefaultShouldRetry, but only the listed HTTP status codes.
//
// Example:
//
//	httpclient.RetryConfig{
//	    Retries:     3,
//	    Delay:       time.Second,
//	    ShouldRetry: httpclient.RetryOnStatus(429, 503),
//	}
func RetryOnStatus(codes ...int) ShouldRetryFunc {
	codeSet := make(map[int]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}

	return func(err error, attempt int) bool {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return codeSet[httpErr.StatusCode]
		}
		return DefaultShouldRetry(err, attempt)
	}
}

// AlwaysRetry retries every error except cancellations.
func AlwaysRetry() ShouldRetryFunc {
	return func(err error, _ int) bool {
		return !errors.Is(err, ErrCancel) && !errors.Is(err, context.Canceled)
	}
}

// NeverRetry disables retry regardless of the attempt budget.
func NeverRetry() ShouldRetryFunc {
	return func(_ error, _ int) bool { return false }
}

// classifyError maps a raw transport error onto the RequestError taxonomy.
// Errors that already belong to the taxonomy are returned unchanged.
//
// ctx is the caller's context: its cancellation yields a CancelError, its
// deadline a TimeoutError. Any other deadline or timeout reported by the
// transport is the per-call timeout and also yields a TimeoutError.
func classifyError(ctx context.Context, err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}

	var reqErr RequestError
	if errors.As(err, &reqErr) {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return NewCancelError(err)
	}

	if isTimeoutError(err) {
		return NewTimeoutError(timeout, err)
	}

	return NewNetworkError(err)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// isPermanentError reports transport failures that will not go away on
// retry.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnsupportedCapability) || errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrInvalidBody) {
		return true
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || // Permission denied
		errors.Is(err, syscall.EHOSTDOWN) { // Host is down
		return true
	}

	return containsPermanentPattern(err)
}

func containsPermanentPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"x509:",
		"certificate",
		"tls:",
		"no route to host",
		"permission denied",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// errorTypeOf returns the low-cardinality error.type attribute for metrics
// and spans.
func errorTypeOf(err error) string {
	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		return "_OTHER"
	}
	switch e := reqErr.(type) {
	case *HTTPError:
		switch {
		case e.StatusCode == 0:
			return "http"
		case e.StatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	case *NetworkError:
		switch {
		case errors.Is(e, gobreaker.ErrOpenState):
			return "circuit_open"
		case errors.Is(e, ErrRateLimited):
			return "rate_limited"
		default:
			return "network"
		}
	default:
		return string(reqErr.Kind())
	}
}
