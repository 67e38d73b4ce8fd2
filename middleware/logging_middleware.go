package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	"connector-rpc/logx"
)

// LoggingMiddleware logs every call with its duration and outcome. Calls
// without an ID get a fresh one.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			start := time.Now()
			result, err := next(ctx, call)

			ev := logx.Log.Info()
			if err != nil {
				ev = logx.Log.Warn().Err(err)
			}
			ev.Str("call_id", call.ID).
				Str("connector", call.Key.String()).
				Str("operation", call.Operation).
				Str("method", call.Method).
				Dur("duration", time.Since(start)).
				Msg("call finished")
			return result, err
		}
	}
}
