package middleware

import (
	"context"
	"time"

	"connector-rpc/metrics"
)

// MetricsMiddleware records the count and duration of calls for side.
func MetricsMiddleware(side string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			metrics.RecordCall(side, call.Operation, time.Since(start), err)
			return result, err
		}
	}
}
