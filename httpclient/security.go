package httpclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRequestIDMismatch is wrapped by the HTTPError returned when a response
// echoes a request id different from the one sent.
var ErrRequestIDMismatch = errors.New("response request id mismatch")

// Default header names written by the security layer.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"
)

// SecurityPolicy controls the URL check and the headers added to every
// request while security is enabled.
type SecurityPolicy struct {
	// AllowedSchemes lists accepted URL schemes. Default: https.
	AllowedSchemes []string

	// AllowedHosts restricts requests to these hosts when non-empty.
	// Entries starting with "*." match any subdomain.
	AllowedHosts []string

	// AllowInsecureLocalhost accepts plain http to loopback hosts.
	// Default: true.
	AllowInsecureLocalhost bool

	// SigningKey enables an HMAC-SHA256 signature header when set.
	SigningKey []byte

	// VerifyResponseRequestID rejects responses that echo a different
	// X-Request-ID than the request carried.
	VerifyResponseRequestID bool
}

// DefaultSecurityPolicy accepts https anywhere and http on loopback.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		AllowedSchemes:         []string{"https"},
		AllowInsecureLocalhost: true,
	}
}

// IsSecureURL checks rawURL against the default policy.
func IsSecureURL(rawURL string) bool {
	return DefaultSecurityPolicy().IsSecureURL(rawURL)
}

// IsSecureURL reports whether rawURL is absolute and passes the scheme and
// host allow-lists.
func (p SecurityPolicy) IsSecureURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())

	if !slices.Contains(p.AllowedSchemes, scheme) {
		if !(p.AllowInsecureLocalhost && scheme == "http" && isLoopback(host)) {
			return false
		}
	}

	if len(p.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range p.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// BuildSecureHeaders returns the security headers for a request under the
// default policy.
func BuildSecureHeaders(method, rawURL string, body any) map[string]string {
	return DefaultSecurityPolicy().BuildSecureHeaders(method, rawURL, body, "", time.Now())
}

// BuildSecureHeaders returns the request id, timestamp and nonce headers,
// plus a signature when SigningKey is set. An empty requestID generates one.
//
// The signature is the hex HMAC-SHA256 of
// "METHOD\nURL\nTIMESTAMP\nNONCE\nhex(sha256(body))".
func (p SecurityPolicy) BuildSecureHeaders(
	method, rawURL string,
	body any,
	requestID string,
	now time.Time,
) map[string]string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	nonce := uuid.NewString()

	headers := map[string]string{
		HeaderRequestID: requestID,
		HeaderTimestamp: timestamp,
		HeaderNonce:     nonce,
	}

	if len(p.SigningKey) > 0 {
		bodyHash := sha256.Sum256(bodyBytes(body))
		payload := strings.Join([]string{
			strings.ToUpper(method),
			rawURL,
			timestamp,
			nonce,
			hex.EncodeToString(bodyHash[:]),
		}, "\n")

		mac := hmac.New(sha256.New, p.SigningKey)
		mac.Write([]byte(payload))
		headers[HeaderSignature] = hex.EncodeToString(mac.Sum(nil))
	}

	return headers
}

// SecurityInterceptor applies a SecurityPolicy to requests and responses.
type SecurityInterceptor struct {
	policy SecurityPolicy
	clock  Clock
}

// NewSecurityInterceptor creates an interceptor for policy. A nil clock
// uses wall time.
func NewSecurityInterceptor(policy SecurityPolicy, clock Clock) *SecurityInterceptor {
	if clock == nil {
		clock = realClock{}
	}
	return &SecurityInterceptor{policy: policy, clock: clock}
}

// Request rejects insecure URLs with a 403 *HTTPError wrapping
// ErrInsecureURL, and otherwise returns a copy of cfg carrying the
// security headers. Headers already set by the caller are kept.
func (s *SecurityInterceptor) Request(cfg *RequestConfig) (*RequestConfig, error) {
	if !s.policy.IsSecureURL(cfg.URL) {
		httpErr := NewHTTPError(http.StatusForbidden, nil)
		httpErr.Message = "insecure request url rejected"
		httpErr.cause = ErrInsecureURL
		return nil, httpErr
	}

	next := cfg.Clone()
	secure := s.policy.BuildSecureHeaders(cfg.Method, cfg.URL, cfg.Body, cfg.RequestID, s.clock.Now())
	for k, v := range secure {
		if _, ok := lookupHeader(next.Headers, k); !ok {
			next.Headers[k] = v
		}
	}
	return next, nil
}

// Response checks the echoed request id when the policy asks for it.
func (s *SecurityInterceptor) Response(resp *Response) (*Response, error) {
	if !s.policy.VerifyResponseRequestID || resp.Config == nil {
		return resp, nil
	}

	echoed := resp.Header(HeaderRequestID)
	sent := resp.Config.Header(HeaderRequestID)
	if echoed != "" && sent != "" && echoed != sent {
		httpErr := NewHTTPError(resp.StatusCode, resp)
		httpErr.Message = ErrRequestIDMismatch.Error()
		httpErr.cause = ErrRequestIDMismatch
		return nil, httpErr
	}
	return resp, nil
}
