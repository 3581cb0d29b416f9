package middleware

import (
	"querycraft"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs one structured line per request, skipping probes that
// would drown the log.
func RequestLogger() gin.HandlerFunc {
	skip := map[string]bool{
		"/health":  true,
		"/metrics": true,
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		event := querycraft.Logger.Info()
		if c.Writer.Status() >= 500 {
			event = querycraft.Logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("request")
	}
}
