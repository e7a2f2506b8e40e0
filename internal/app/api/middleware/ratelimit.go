package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/handbok-org/handbok/pkg/response"
)

type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimitByIP keys the limiter on route and client address.
func RateLimitByIP(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.FullPath()+":"+c.ClientIP()) {
			response.Abort(c, response.APIResponseCodeTooManyRequests, "too many requests, try again later")
			return
		}
		c.Next()
	}
}
