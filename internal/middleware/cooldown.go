package middleware

import (
	"net/http"
	"strconv"
	"time"

	"videoshop/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// ==================== Cooldown middleware ====================

// Cooldown lets a route fire once per interval under key. Early callers get a
// 429 with the remaining wait instead of queueing.
//
// Usage:
//
//	api.POST("/automation/run",
//	    middleware.Cooldown(limiter, "automation-run", 5*time.Minute),
//	    automationCtl.Run,
//	)
func Cooldown(limiter *ratelimit.Cooldown, key string, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Check(key, interval)
		if !result.Allowed {
			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"success": false,
				"message": "cooling down, retry in " + ratelimit.FormatRetry(result.RetryAfter),
				"data": gin.H{
					"retry_after": int(result.RetryAfter.Round(time.Second).Seconds()),
					"key":         key,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
