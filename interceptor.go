package mrpc

import (
	"context"
)

// Handler is the unit the interceptor chain composes. The innermost handler
// decodes the request and invokes the processor; a non-nil error aborts the
// call and the transport answers with an error status instead of a reply.
type Handler func(ctx context.Context, call *Call) error

// Interceptor wraps a Handler. Interceptors are fixed when the server is
// constructed and applied to each binding at registration time.
type Interceptor func(next Handler) Handler

// Chain composes ics around h so that ics[0] is outermost.
func Chain(h Handler, ics ...Interceptor) Handler {
	for i := len(ics) - 1; i >= 0; i-- {
		h = ics[i](h)
	}

	return h
}
