package mrpc

import (
	"context"
	"sync"

	"miren.dev/mrpc/pkg/cond"
)

// Dispatcher executes calls on behalf of a transport. The server implements
// it; transports hold nothing else of the server.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, body []byte) ([]byte, error)
}

// Transport moves call bytes for a server. Start must not return until the
// transport is accepting calls or has failed. Shutdown drains in-flight
// calls until ctx ends, then force-terminates.
type Transport interface {
	Start(ctx context.Context, d Dispatcher) error
	Shutdown(ctx context.Context) error

	// Port reports the bound listen port, or 0 for transports without one.
	Port() int
}

type remoteAddrKey struct{}

// WithRemoteAddr records the peer address for a call. Transports install it
// on the context before dispatching.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the peer address recorded on ctx, or "".
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// TransportFactory builds a transport listening on addr.
type TransportFactory func(addr string) (Transport, error)

var (
	transportsMu sync.Mutex
	transports   = map[string]TransportFactory{}
)

// RegisterTransport makes a transport available under a scheme name.
// Transport packages call this from init; importing the package is enough
// to make its scheme selectable.
func RegisterTransport(scheme string, f TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	transports[scheme] = f
}

// NewTransport builds the transport registered under scheme.
func NewTransport(scheme, addr string) (Transport, error) {
	transportsMu.Lock()
	f, ok := transports[scheme]
	transportsMu.Unlock()

	if !ok {
		return nil, cond.NotFound("transport", scheme)
	}

	return f(addr)
}

// Transports returns the registered scheme names.
func Transports() []string {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}

	return names
}
