package mrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	r := require.New(t)

	var order []string

	tag := func(name string) Interceptor {
		return func(next Handler) Handler {
			return func(ctx context.Context, call *Call) error {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}

	h := Chain(func(ctx context.Context, call *Call) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	r.NoError(h(context.Background(), &Call{}))
	r.Equal([]string{"outer", "inner", "handler"}, order)
}

func TestChainEmpty(t *testing.T) {
	r := require.New(t)

	called := false

	h := Chain(func(ctx context.Context, call *Call) error {
		called = true
		return nil
	})

	r.NoError(h(context.Background(), &Call{}))
	r.True(called)
}
