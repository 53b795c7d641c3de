package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one record per request and turns panics into a 500
// envelope.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.ErrorContext(c.Request.Context(), "request_panic",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"request_id", requestID(c),
					"error", fmt.Sprint(recovered),
					"stack", string(debug.Stack()),
				)
				failure(c, http.StatusInternalServerError, CodeInternal, "internal error")
				return
			}
			attrs := []any{
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"latency", time.Since(start),
				"client_ip", c.ClientIP(),
			}
			if id := requestID(c); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if len(c.Errors) > 0 {
				attrs = append(attrs, "error", c.Errors.String())
			}
			level := slog.LevelInfo
			if c.Writer.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.Log(c.Request.Context(), level, "http_request", attrs...)
		}()
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetHeader("X-Request-ID")
}
