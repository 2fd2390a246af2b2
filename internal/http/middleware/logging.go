// README: Access logging and HTTP metrics.
package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campusride/internal/observability"
)

// Logging writes one http_request line per request and records the request
// counters. The route template is used as the metrics label.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		code := strconv.Itoa(status)
		observability.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, code).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", RequestIDFrom(c),
			"uid", CallerUID(c),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "http_request", attrs...)
	}
}
