package interceptor

import (
	"context"
	"log/slog"
	"time"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/cond"
)

// Logging emits one line per call. Failures log at error level, successes
// at debug. If RequestID runs outside this interceptor the call id is
// included.
func Logging(log *slog.Logger) mrpc.Interceptor {
	if log == nil {
		log = slog.Default()
	}

	return func(next mrpc.Handler) mrpc.Handler {
		return func(ctx context.Context, call *mrpc.Call) error {
			start := time.Now()

			err := next(ctx, call)

			attrs := []any{
				"method", call.Method(),
				"remote", call.RemoteAddr(),
				"duration", time.Since(start),
			}

			if id := CallID(ctx); id != "" {
				attrs = append(attrs, "call-id", id)
			}

			if err != nil {
				attrs = append(attrs, "error", err, "category", cond.Category(err))
				log.Error("call failed", attrs...)
				return err
			}

			// A processor may return before replying; flag those calls so
			// slow async replies can be traced back to their handler line.
			if !call.Responded() {
				attrs = append(attrs, "async", true)
			}

			log.Debug("call handled", attrs...)

			return nil
		}
	}
}
