package mrpc

import (
	"context"
	"sync/atomic"

	"miren.dev/mrpc/pkg/cond"
)

// Connection is the handle a Call would expose for its underlying
// connection. None of the provided transports expose one; Call.Connection
// always fails.
type Connection interface {
	RemoteAddr() string
	Close() error
}

// Call is the per-request context handed to processors. It carries the
// decoded request and the reply capability.
//
// SendResponse may be called from any goroutine. A processor is free to
// return from HandleRequest immediately and answer later; the transport
// waits for the reply with the call's context.
type Call struct {
	method   string
	interest string
	remote   string
	body     []byte

	req any

	responded atomic.Bool
	resp      chan any
}

func newCall(b *Binding, body []byte, remote string) *Call {
	return &Call{
		method:   b.Method,
		interest: b.Interest,
		remote:   remote,
		body:     body,
		resp:     make(chan any, 1),
	}
}

func (c *Call) Method() string { return c.method }

func (c *Call) Interest() string { return c.interest }

// Request returns the decoded request message. It is nil until the dispatch
// adapter has decoded the body, so interceptors running outside the adapter
// may observe nil.
func (c *Call) Request() any { return c.req }

// RemoteAddr returns the peer address the transport recorded for this call,
// or "" if the transport did not provide one.
func (c *Call) RemoteAddr() string { return c.remote }

// SendResponse delivers the reply for this call. The first call wins;
// later calls fail with an illegal-state error and the message is dropped.
// The dispatch layer does not interpret msg: error replies are ordinary
// messages the peer understands.
func (c *Call) SendResponse(msg any) error {
	if !c.responded.CompareAndSwap(false, true) {
		return cond.IllegalState("call", "response already sent for "+c.method)
	}

	c.resp <- msg
	return nil
}

// Responded reports whether SendResponse has been called.
func (c *Call) Responded() bool {
	return c.responded.Load()
}

// Connection always fails: the provided transports do not expose their
// connections.
func (c *Call) Connection() (Connection, error) {
	return nil, cond.Unsupported("call", "connection access")
}

// response blocks until the processor replies or ctx ends.
func (c *Call) response(ctx context.Context) (any, error) {
	select {
	case msg := <-c.resp:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
