package middleware

import (
	"time"

	"rtcstats/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogMiddleware logs one line per request with the request, trace and
// client ids found in the request context.
func RequestLogMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
