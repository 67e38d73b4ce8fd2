package middleware

import (
	"context"
	"time"

	"connector-rpc/exception"
	"connector-rpc/logx"
)

// RetryMiddleware retries failed calls with exponential backoff starting at
// baseDelay.
//
// Only retryable failures and failed connection attempts are retried. A
// retryable Create that already assigned a Uid is returned as is: the object
// exists and the caller has to follow up with an Update. A streaming call is
// only retried when it never reached the server.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			result, err := next(ctx, call)
			for i := 0; i < maxRetries && err != nil && shouldRetry(call, err); i++ {
				delay := baseDelay * time.Duration(1<<i)
				logx.Log.Debug().
					Str("call_id", call.ID).
					Str("operation", call.Operation).
					Int("attempt", i+1).
					Dur("delay", delay).
					Err(err).
					Msg("retrying call")

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, err
				}
				result, err = next(ctx, call)
			}
			return result, err
		}
	}
}

func shouldRetry(call *Call, err error) bool {
	if exception.IsKind(err, exception.KindConnectionFailed) {
		return true
	}
	if call.Streaming || !exception.IsKind(err, exception.KindRetryable) {
		return false
	}
	return call.Operation != "Create" || exception.UIDOf(err) == nil
}
