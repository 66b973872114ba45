package mrpc

import (
	"context"
	"sync"

	"miren.dev/mrpc/pkg/cond"
)

// InprocTransport is a loopback transport: its clients invoke the dispatch
// layer directly, no sockets involved. It backs tests and embedded setups.
type InprocTransport struct {
	mu sync.Mutex
	d  Dispatcher
}

func NewInprocTransport() *InprocTransport {
	return &InprocTransport{}
}

func (t *InprocTransport) Start(ctx context.Context, d Dispatcher) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.d = d
	return nil
}

func (t *InprocTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.d = nil
	return nil
}

func (t *InprocTransport) Port() int { return 0 }

// Client returns a client calling through this transport. The remote
// address seen by processors is "inproc".
func (t *InprocTransport) Client() *Client {
	return NewClient(inprocClient{t: t}, nil)
}

type inprocClient struct {
	t *InprocTransport
}

func (c inprocClient) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	c.t.mu.Lock()
	d := c.t.d
	c.t.mu.Unlock()

	if d == nil {
		return nil, cond.Closed("transport not started")
	}

	ctx = WithRemoteAddr(ctx, "inproc")

	return d.Dispatch(ctx, method, req)
}

func (c inprocClient) Close() error { return nil }
