package mrpc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"miren.dev/mrpc/pkg/cond"
)

const (
	stateStopped int32 = iota
	stateStarting
	stateStarted
)

// DefaultDrainTimeout bounds how long Shutdown waits for in-flight calls
// before force-terminating the transport.
const DefaultDrainTimeout = 5 * time.Second

type serverOptions struct {
	log          *slog.Logger
	codec        Codec
	transport    Transport
	marshallers  *MarshallerRegistry
	interceptors []Interceptor
	drain        time.Duration
}

type ServerOption func(*serverOptions)

func WithLogger(log *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = log
	}
}

func WithCodec(c Codec) ServerOption {
	return func(o *serverOptions) {
		o.codec = c
	}
}

func WithTransport(t Transport) ServerOption {
	return func(o *serverOptions) {
		o.transport = t
	}
}

func WithMarshallers(r *MarshallerRegistry) ServerOption {
	return func(o *serverOptions) {
		o.marshallers = r
	}
}

// WithInterceptors sets the chain applied to every binding, outermost
// first. Bindings keep the chain they were registered with.
func WithInterceptors(ics ...Interceptor) ServerOption {
	return func(o *serverOptions) {
		o.interceptors = ics
	}
}

func WithDrainTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.drain = d
	}
}

// Server binds processors to wire methods and runs them over a transport.
//
// The zero lifecycle is: construct, register processors, Init, serve,
// Shutdown. Registration is also legal after Init; the catalog is consulted
// on every call.
type Server struct {
	log     *slog.Logger
	codec   Codec
	reg     *MarshallerRegistry
	catalog *Catalog

	transport    Transport
	interceptors []Interceptor
	drain        time.Duration

	state atomic.Int32
}

func NewServer(opts ...ServerOption) *Server {
	var so serverOptions

	for _, opt := range opts {
		opt(&so)
	}

	if so.log == nil {
		so.log = slog.Default()
	}

	if so.codec == nil {
		so.codec = CBORCodec{}
	}

	if so.marshallers == nil {
		so.marshallers = NewMarshallerRegistry()
	}

	if so.drain == 0 {
		so.drain = DefaultDrainTimeout
	}

	return &Server{
		log:          so.log.With("module", "mrpc"),
		codec:        so.codec,
		reg:          so.marshallers,
		catalog:      NewCatalog(),
		transport:    so.transport,
		interceptors: so.interceptors,
		drain:        so.drain,
	}
}

// Marshallers returns the registry the server resolves factories from.
func (s *Server) Marshallers() *MarshallerRegistry {
	return s.reg
}

// RegisterProcessor resolves the factories for the processor's interest,
// wraps the processor in the interceptor chain, and installs the binding.
// It fails if either factory is missing or the interest is already bound.
func (s *Server) RegisterProcessor(p Processor) error {
	interest := p.Interest()
	if interest == "" {
		return cond.InvalidConfig("processor", "empty interest")
	}

	newReq, ok := s.reg.RequestFor(interest)
	if !ok {
		return cond.InvalidConfig("processor", "no request marshaller for %s", interest)
	}

	newResp, ok := s.reg.ResponseFor(interest)
	if !ok {
		return cond.InvalidConfig("processor", "no response marshaller for %s", interest)
	}

	b := &Binding{
		Method:      FullMethod(interest),
		Interest:    interest,
		NewRequest:  newReq,
		NewResponse: newResp,
	}

	b.Handler = Chain(s.adapt(p, b), s.interceptors...)

	err := s.catalog.Add(b)
	if err != nil {
		return err
	}

	s.log.Debug("registered processor", "interest", interest, "method", b.Method)

	return nil
}

// adapt is the innermost handler: it decodes the body into a fresh request
// and invokes the processor. It does not wait for the reply.
func (s *Server) adapt(p Processor, b *Binding) Handler {
	return func(ctx context.Context, call *Call) error {
		req := b.NewRequest()

		err := s.codec.Unmarshal(call.body, req)
		if err != nil {
			return cond.Corruption("decode", "bad request body for %s: %s", b.Method, err)
		}

		call.req = req

		p.HandleRequest(ctx, call)

		return nil
	}
}

// Init starts the transport. The server only reports itself started after
// the transport start succeeds; a failed start leaves it stopped, so Init
// may be retried. Calling Init on a started server fails.
func (s *Server) Init(ctx context.Context) error {
	if s.transport == nil {
		return cond.InvalidConfig("server", "no transport configured")
	}

	if !s.state.CompareAndSwap(stateStopped, stateStarting) {
		return cond.IllegalState("server", "already started")
	}

	err := s.transport.Start(ctx, s)
	if err != nil {
		s.state.Store(stateStopped)
		return errors.Wrap(err, "starting transport")
	}

	s.state.Store(stateStarted)

	s.log.Info("server started", "port", s.transport.Port())

	return nil
}

// Shutdown stops a started server, draining in-flight calls up to the drain
// timeout. On a server that is not started it is a no-op, and calling it
// again after a shutdown is a no-op, so it is always safe to defer.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateStarted, stateStopped) {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.drain)
	defer cancel()

	err := s.transport.Shutdown(dctx)
	if err != nil {
		return errors.Wrap(err, "stopping transport")
	}

	s.log.Info("server stopped")

	return nil
}

// BoundPort reports the transport's bound port, or 0 unless the server is
// started.
func (s *Server) BoundPort() int {
	if s.state.Load() != stateStarted {
		return 0
	}

	return s.transport.Port()
}

// Dispatch runs one call: catalog lookup, handler chain, then await the
// reply and encode it. Transports are expected to have recorded the peer
// address on ctx with WithRemoteAddr and to bound ctx however their wire
// protocol bounds a call.
func (s *Server) Dispatch(ctx context.Context, method string, body []byte) ([]byte, error) {
	b, ok := s.catalog.Lookup(method)
	if !ok {
		return nil, cond.NotFound("method", method)
	}

	call := newCall(b, body, RemoteAddr(ctx))

	err := b.Handler(ctx, call)
	if err != nil {
		// Normalize whatever the chain produced so transports can put a
		// taxonomy code on the wire.
		return nil, cond.Wrap(err)
	}

	msg, err := call.response(ctx)
	if err != nil {
		return nil, cond.Wrap(err)
	}

	data, err := s.codec.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encoding response")
	}

	return data, nil
}
