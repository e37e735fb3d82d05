package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"heartstring/internal/infrastructure/metrics"
	"heartstring/internal/infrastructure/ratelimit"
	"heartstring/pkg/errors"
	"heartstring/pkg/response"
)

// RateLimit throttles requests per authenticated user, or per client IP
// before authentication.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid, ok := c.Get("uid").(string); ok && uid != "" {
				key = uid
			}

			allowed, wait := limiter.Allow(key, ratelimit.ActionAPIRequest)
			if !allowed {
				metrics.RateLimited.WithLabelValues(ratelimit.ActionAPIRequest).Inc()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", wait))
			}
			return next(c)
		}
	}
}
