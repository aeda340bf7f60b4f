package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter counts requests per key in a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// checkoutRateLimit caps order placement per user. When the limiter backend
// is unreachable the request is let through and the failure is logged.
func checkoutRateLimit(limiter RateLimiter, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		key := fmt.Sprintf("checkout:user:%d", actor.UserID)

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn("Rate limiter unavailable", zap.Int64("user_id", actor.UserID), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Kind:    "rate_limited",
				Message: "too many checkout attempts, slow down",
			})
			return
		}
		c.Next()
	}
}

// webhookAuth guards the provider callback endpoint with a shared token
func webhookAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(WebhookToken)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Kind:    "unauthenticated",
				Message: "invalid webhook token",
			})
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
