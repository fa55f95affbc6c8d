package cad

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces calls with a token bucket. Some CAD
// applications misbehave when relaunched back to back, and licence
// servers often cap launches per minute.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next Call) Call {
		return func(ctx context.Context, req Request) error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
			return next(ctx, req)
		}
	}
}

// PerMinute converts a launches-per-minute setting to a rate.Limit for
// RateLimitMiddleware. Zero or less means unlimited and yields rate.Inf,
// so an unset configuration value never throttles.
func PerMinute(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n / 60)
}
