package middleware

import (
	"fmt"
	"time"

	"coderun/internal/common/ratelimit"
	"coderun/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitPolicy caps hits per client ip and per route inside one window.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimitMiddleware enforces policy on one route. A nil limiter disables it.
func RateLimitMiddleware(limiter *ratelimit.Limiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("coderun:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.RouteMax > 0 {
			key := "coderun:rate:route:" + routeKey
			if err := limiter.Allow(c.Request.Context(), key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
