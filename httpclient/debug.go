package httpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// redactedHeaders are masked in debug output.
var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
	HeaderSignature: true,
}

// generateCurlCommand creates a cURL command equivalent for cfg.
//
// Credentials in Authorization, Cookie, X-Api-Key and signature headers
// are masked. Streaming bodies are omitted.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -d '{"name":"John"}'
func generateCurlCommand(cfg *RequestConfig) string {
	parts := []string{"curl"}

	if cfg.Method != "" && cfg.Method != http.MethodGet {
		parts = append(parts, "-X", cfg.Method)
	}

	parts = append(parts, shellQuote(cfg.URL))

	// Headers (sorted for consistent output)
	keys := make([]string, 0, len(cfg.Headers))
	for k := range cfg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := cfg.Headers[k]
		if redactedHeaders[http.CanonicalHeaderKey(k)] {
			v = "***"
		}
		parts = append(parts, "-H", shellQuote(k+": "+v))
	}

	if body := bodyBytes(cfg.Body); len(body) > 0 {
		parts = append(parts, "-d", shellQuote(string(body)))
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// logRequest logs cfg at debug level, with a reproducible curl command.
func logRequest(logger zerolog.Logger, cfg *RequestConfig) {
	logger.Debug().
		Str("request_id", cfg.RequestID).
		Str("method", cfg.Method).
		Str("url", cfg.URL).
		Str("curl", generateCurlCommand(cfg)).
		Msg("HTTP request")
}

// logResponse logs resp at debug level.
func logResponse(logger zerolog.Logger, cfg *RequestConfig, resp *Response, duration time.Duration) {
	logger.Debug().
		Str("request_id", cfg.RequestID).
		Int("status", resp.StatusCode).
		Bool("from_cache", resp.FromCache).
		Int("content_length", len(resp.Data)).
		Dur("duration", duration).
		Msg("HTTP response")
}

// TraceInfo holds connection timings of one HTTP adapter call.
type TraceInfo struct {
	DNSLookup    time.Duration
	ConnTime     time.Duration
	TLSHandshake time.Duration
	ServerTime   time.Duration
	TotalTime    time.Duration
	ConnReused   bool
}

// requestTracer captures connection timings through httptrace.
type requestTracer struct {
	dnsStart   time.Time
	dnsEnd     time.Time
	connStart  time.Time
	connEnd    time.Time
	tlsStart   time.Time
	tlsEnd     time.Time
	reqWritten time.Time
	firstByte  time.Time
	totalStart time.Time
	reused     bool
}

func newRequestTracer() *requestTracer {
	return &requestTracer{totalStart: time.Now()}
}

func (t *requestTracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			t.reused = info.Reused
		},
		DNSStart: func(_ httptrace.DNSStartInfo) {
			t.dnsStart = time.Now()
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			t.dnsEnd = time.Now()
		},
		ConnectStart: func(_, _ string) {
			t.connStart = time.Now()
		},
		ConnectDone: func(_, _ string, _ error) {
			t.connEnd = time.Now()
		},
		TLSHandshakeStart: func() {
			t.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			t.tlsEnd = time.Now()
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			t.reqWritten = time.Now()
		},
		GotFirstResponseByte: func() {
			t.firstByte = time.Now()
		},
	}
}

func span(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

func (t *requestTracer) info() TraceInfo {
	return TraceInfo{
		DNSLookup:    span(t.dnsStart, t.dnsEnd),
		ConnTime:     span(t.connStart, t.connEnd),
		TLSHandshake: span(t.tlsStart, t.tlsEnd),
		ServerTime:   span(t.reqWritten, t.firstByte),
		TotalTime:    time.Since(t.totalStart),
		ConnReused:   t.reused,
	}
}

func (i TraceInfo) String() string {
	return fmt.Sprintf("dns=%s conn=%s tls=%s server=%s total=%s reused=%t",
		i.DNSLookup, i.ConnTime, i.TLSHandshake, i.ServerTime, i.TotalTime, i.ConnReused)
}

// logTrace logs connection timings at debug level.
func logTrace(logger zerolog.Logger, cfg *RequestConfig, info TraceInfo) {
	logger.Debug().
		Str("request_id", cfg.RequestID).
		Dur("dns", info.DNSLookup).
		Dur("connect", info.ConnTime).
		Dur("tls", info.TLSHandshake).
		Dur("server", info.ServerTime).
		Dur("total", info.TotalTime).
		Bool("conn_reused", info.ConnReused).
		Msg("HTTP connection trace")
}
