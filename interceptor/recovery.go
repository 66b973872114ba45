// Package interceptor provides the stock server interceptors: panic
// recovery, per-call logging, Prometheus metrics, and call ids.
package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/cond"
)

// Recovery converts processor panics into panic-category errors so one bad
// call cannot take the server down. Install it outermost.
func Recovery(log *slog.Logger) mrpc.Interceptor {
	if log == nil {
		log = slog.Default()
	}

	return func(next mrpc.Handler) mrpc.Handler {
		return func(ctx context.Context, call *mrpc.Call) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("processor panicked",
						"method", call.Method(),
						"panic", rec,
						"stack", string(debug.Stack()))

					err = cond.Panic(fmt.Sprint(rec))
				}
			}()

			return next(ctx, call)
		}
	}
}
