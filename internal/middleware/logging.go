package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
)

// Logger middleware logs request details and records request metrics
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(status),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(latency.Seconds())

		log.WithField("method", c.Request.Method).
			WithField("path", path).
			WithField("status", status).
			WithField("latency", latency.String()).
			WithField("ip", c.ClientIP()).
			Info("Request handled")
	}
}
