package httpclient

import (
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// serverAttributes returns server.address and server.port for rawURL,
// defaulting the port from the scheme.
func serverAttributes(rawURL string) []attribute.KeyValue {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, 2)
	attrs = append(attrs, attribute.String("server.address", u.Hostname()))

	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	} else {
		switch u.Scheme {
		case "http":
			attrs = append(attrs, attribute.Int("server.port", 80))
		case "https":
			attrs = append(attrs, attribute.Int("server.port", 443))
		}
	}
	return attrs
}

// spanAttributes returns the attributes of the logical call span.
func (cfg *internalConfig) spanAttributes(rc *RequestConfig, platform Platform) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = append(attrs, cfg.baseAttributes()...)
	attrs = append(attrs,
		attribute.String("http.request.method", rc.Method),
		attribute.String("url.full", rc.URL),
		attribute.String("http.client.platform", string(platform)),
	)
	attrs = append(attrs, serverAttributes(rc.URL)...)

	if rc.RequestID != "" {
		attrs = append(attrs, attribute.String("http.request.id", rc.RequestID))
	}
	if rc.OperationName != "" {
		attrs = append(attrs, attribute.String("http.client.operation", rc.OperationName))
	}
	if ua := rc.Header("User-Agent"); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

// metricAttributes returns low-cardinality attributes for metrics.
// statusCode 0 omits the status attribute.
func (cfg *internalConfig) metricAttributes(method, rawURL string, statusCode int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", method))
	attrs = append(attrs, serverAttributes(rawURL)...)
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", statusCode))
	}
	return attrs
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}

// addSpanEvents adds connection timing events to span.
func (t *requestTracer) addSpanEvents(span trace.Span) {
	if !span.IsRecording() {
		return
	}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		span.AddEvent("dns.done", trace.WithTimestamp(t.dnsEnd),
			trace.WithAttributes(
				attribute.Float64("dns.duration_ms", float64(t.dnsEnd.Sub(t.dnsStart).Milliseconds())),
			))
	}

	if !t.connStart.IsZero() && !t.connEnd.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(t.connEnd),
			trace.WithAttributes(
				attribute.Float64("connect.duration_ms", float64(t.connEnd.Sub(t.connStart).Milliseconds())),
			))
	}

	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(t.tlsEnd),
			trace.WithAttributes(
				attribute.Float64("tls.duration_ms", float64(t.tlsEnd.Sub(t.tlsStart).Milliseconds())),
			))
	}

	if !t.firstByte.IsZero() {
		var ttfbMs float64
		if !t.reqWritten.IsZero() {
			ttfbMs = float64(t.firstByte.Sub(t.reqWritten).Milliseconds())
		}
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(t.firstByte),
			trace.WithAttributes(
				attribute.Float64("ttfb_ms", ttfbMs),
				attribute.Bool("connection.reused", t.reused),
			))
	}
}
