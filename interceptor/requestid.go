package interceptor

import (
	"context"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/idgen"
)

type callIDKey struct{}

// RequestID attaches a generated id to each call's context for log
// correlation.
func RequestID() mrpc.Interceptor {
	return func(next mrpc.Handler) mrpc.Handler {
		return func(ctx context.Context, call *mrpc.Call) error {
			ctx = context.WithValue(ctx, callIDKey{}, idgen.New("c"))

			return next(ctx, call)
		}
	}
}

// CallID returns the id RequestID attached to ctx, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
