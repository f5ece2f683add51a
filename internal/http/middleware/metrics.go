package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/tokenauth/internal/metrics"
)

// Metrics records request latency by matched route. Unmatched paths share
// the "unmatched" label.
func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
