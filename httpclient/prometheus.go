package httpclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder counts request errors in a Prometheus counter vector
// labeled by kind and status.
type PrometheusRecorder struct {
	errors *prometheus.CounterVec
}

var _ ErrorRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers "<namespace>_http_client_errors_total"
// with reg. A nil reg uses prometheus.DefaultRegisterer.
//
// Example:
//
//	rec, err := httpclient.NewPrometheusRecorder(prometheus.DefaultRegisterer, "checkout")
//	if err != nil {
//	    return err
//	}
//	client := httpclient.New(httpclient.WithErrorRecorder(
//	    httpclient.MultiRecorder(rec, httpclient.NewErrorManager(logger)),
//	))
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http_client",
		Name:      "errors_total",
		Help:      "Number of failed HTTP client calls by error kind and status.",
	}, []string{"kind", "status"})

	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		counter = already.ExistingCollector.(*prometheus.CounterVec)
	}

	return &PrometheusRecorder{errors: counter}, nil
}

// Record increments the counter for err.
func (r *PrometheusRecorder) Record(_ context.Context, err error) {
	if err == nil {
		return
	}

	kind := string(KindOf(err))
	if kind == "" {
		kind = "other"
	}

	status := ""
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status = strconv.Itoa(httpErr.StatusCode)
	}

	r.errors.WithLabelValues(kind, status).Inc()
}

// CacheCollector exposes RequestCache statistics to Prometheus.
type CacheCollector struct {
	cache *RequestCache

	size       *prometheus.Desc
	hits       *prometheus.Desc
	misses     *prometheus.Desc
	pending    *prometheus.Desc
	dedupJoins *prometheus.Desc
}

var _ prometheus.Collector = (*CacheCollector)(nil)

// NewCacheCollector creates a collector for cache. constLabels are added
// to every series, e.g. {"client": "payments"}.
//
// Example:
//
//	prometheus.MustRegister(httpclient.NewCacheCollector(client.Cache(), "checkout", nil))
func NewCacheCollector(cache *RequestCache, namespace string, constLabels prometheus.Labels) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http_client_cache", name),
			help, nil, constLabels,
		)
	}
	return &CacheCollector{
		cache:      cache,
		size:       desc("entries", "Number of live cache entries."),
		hits:       desc("hits_total", "Number of cache hits."),
		misses:     desc("misses_total", "Number of cache misses."),
		pending:    desc("pending_requests", "Number of in-flight de-duplicated calls."),
		dedupJoins: desc("dedup_joins_total", "Number of callers that joined an in-flight call."),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.hits
	ch <- c.misses
	ch <- c.pending
	ch <- c.dedupJoins
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats(context.Background())

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.Pending))
	ch <- prometheus.MustNewConstMetric(c.dedupJoins, prometheus.CounterValue, float64(stats.DedupJoins))
}

// PrometheusHandler returns an http.Handler serving the metrics gathered
// by g. A nil g serves the default registry.
//
// Example:
//
//	mux.Handle("/metrics", httpclient.PrometheusHandler(reg))
func PrometheusHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
