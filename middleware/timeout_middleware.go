package middleware

import (
	"context"
	"time"

	"connector-rpc/exception"
)

// TimeOutMiddleware bounds each call by the operation's timeout from the
// call's APIConfiguration, falling back to def. A call with neither runs
// unbounded. On expiry the inner call's context is cancelled and the
// middleware waits for it to unwind before reporting the timeout, so nothing
// started by the call outlives it.
func TimeOutMiddleware(def time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			timeout := def
			if ms := call.Config.Timeout(call.Operation); ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
			}
			if timeout <= 0 {
				return next(ctx, call)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				cancel()
				<-done
				return nil, exception.Newf(exception.KindOperationTimeout,
					"%s timed out after %s", call.Operation, timeout)
			}
		}
	}
}
