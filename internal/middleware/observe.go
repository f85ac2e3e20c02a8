package middleware

import (
	"time"

	"videoshop/pkg/logger"
	"videoshop/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ==================== Request context ====================

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an id, reusing the caller's when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID empty outside RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// ==================== Access log + metrics ====================

// Observe logs each request and records it in the HTTP metrics. Unmatched
// routes are recorded under "unmatched" to keep label cardinality bounded.
func Observe() gin.HandlerFunc {
	log := logger.Named("[HTTP]")
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		took := time.Since(began)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordRequest(c.Request.Method, route, status, took)

		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"took", took.Round(time.Microsecond),
			"request_id", GetRequestID(c),
		}
		switch {
		case len(c.Errors) > 0:
			log.Errorw("request failed", append(fields, "error", c.Errors.String())...)
		case status >= 500:
			log.Errorw("request", fields...)
		case status >= 400:
			log.Warnw("request", fields...)
		default:
			log.Debugw("request", fields...)
		}
	}
}
