package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "service"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	visibilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_checks_total",
			Help: "Total number of visibility decisions by outcome",
		},
		[]string{"operation", "outcome", "service"},
	)

	visibilityCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visibility_check_duration_seconds",
			Help:    "Duration of visibility decisions, including graph walks",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "service"},
	)
)

// Metrics records request count and latency per endpoint.
func Metrics(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
			serviceName,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			serviceName,
		).Observe(duration)
	}
}

// RecordVisibilityCheck counts one engine decision. outcome is
// "allowed", "denied" or "error".
func RecordVisibilityCheck(operation, outcome, serviceName string, duration time.Duration) {
	visibilityChecksTotal.WithLabelValues(operation, outcome, serviceName).Inc()
	visibilityCheckDuration.WithLabelValues(operation, serviceName).Observe(duration.Seconds())
}
