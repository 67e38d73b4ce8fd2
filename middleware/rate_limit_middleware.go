package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"connector-rpc/exception"
)

// RateLimitMiddleware rejects calls above r per second with a retryable
// error, using a token bucket of size burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			if !limiter.Allow() {
				return nil, exception.Retryable("rate limit exceeded", nil, nil)
			}
			return next(ctx, call)
		}
	}
}
