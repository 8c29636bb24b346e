package middleware

import (
	"strconv" // String conversion
	"time"    // Timestamps

	"mlm_ledger/internal/metrics" // Prometheus metrics

	"github.com/gin-gonic/gin" // Gin web framework
)

// MetricsMiddleware counts requests and observes latency per route template
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
