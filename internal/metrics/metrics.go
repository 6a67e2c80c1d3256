package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	priceResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_resolutions_total",
			Help: "Price lookups by the fallback tier that satisfied them",
		},
		[]string{"tier"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_upstream_request_duration_seconds",
			Help:    "Upstream price source call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"source", "outcome"},
	)

	samplerPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sampler_passes_total",
			Help: "Completed background sampling passes",
		},
	)

	samplerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sampler_token_errors_total",
			Help: "Per-token sampling failures",
		},
	)

	samplerSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sampler_history_samples",
			Help: "Samples currently retained per token",
		},
		[]string{"token"},
	)
)

// ObserveResolution counts a price lookup satisfied by tier.
func ObserveResolution(tier string) {
	priceResolutions.WithLabelValues(tier).Inc()
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(source string, d time.Duration, succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "error"
	}
	upstreamDuration.WithLabelValues(source, outcome).Observe(d.Seconds())
}

// ObservePass counts a finished sampling pass.
func ObservePass() {
	samplerPasses.Inc()
}

// ObserveSamplingError counts a per-token sampling failure.
func ObserveSamplingError() {
	samplerErrors.Inc()
}

// SetHistorySize publishes the retained sample count for token.
func SetHistorySize(token string, n int) {
	samplerSamples.WithLabelValues(token).Set(float64(n))
}

// GinMiddleware records request count, latency and in-flight requests.
func GinMiddleware(c *gin.Context) {
	if c.Request.URL.Path == "/metrics" {
		c.Next()
		return
	}

	httpRequestsInFlight.Inc()
	start := time.Now()

	c.Next()

	duration := time.Since(start).Seconds()
	status := strconv.Itoa(c.Writer.Status())
	path := c.FullPath()
	if path == "" {
		path = "unknown"
	}

	httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	httpRequestsInFlight.Dec()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
