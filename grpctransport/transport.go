// Package grpctransport carries mrpc calls over gRPC.
//
// The server registers no per-method gRPC services. Every call lands in an
// unknown-service handler with a forced raw codec, so the message body
// passes through untouched and the mrpc catalog decides whether the method
// exists. That keeps processor registration live: methods added after the
// server starts are callable without rebuilding the gRPC server.
package grpctransport

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/cond"
)

func init() {
	mrpc.RegisterTransport("grpc", func(addr string) (mrpc.Transport, error) {
		return New(addr), nil
	})
}

// rawCodec satisfies gRPC's codec contract while leaving bodies as bytes.
// The dispatch layer owns the real message codec.
type rawCodec struct{}

func (rawCodec) Name() string { return "mrpc-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, errors.Errorf("raw codec requires []byte, got %T", v)
	}

	return b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return errors.Errorf("raw codec requires *[]byte, got %T", v)
	}

	*b = data
	return nil
}

type options struct {
	log *slog.Logger
}

type Option func(*options)

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Transport serves mrpc calls over gRPC.
type Transport struct {
	addr string
	log  *slog.Logger

	li net.Listener
	gs *grpc.Server
}

func New(addr string, opts ...Option) *Transport {
	var o options

	for _, opt := range opts {
		opt(&o)
	}

	if o.log == nil {
		o.log = slog.Default()
	}

	return &Transport{
		addr: addr,
		log:  o.log.With("module", "grpctransport"),
	}
}

func (t *Transport) Start(ctx context.Context, d mrpc.Dispatcher) error {
	li, err := net.Listen("tcp", t.addr)
	if err != nil {
		return errors.Wrap(err, "binding tcp socket")
	}

	t.li = li
	t.gs = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(func(srv any, stream grpc.ServerStream) error {
			return t.handleCall(stream, d)
		}),
	)

	go t.gs.Serve(li)

	t.log.Debug("listening", "addr", li.Addr())

	return nil
}

func (t *Transport) handleCall(stream grpc.ServerStream, d mrpc.Dispatcher) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method on stream")
	}

	// gRPC spells the method /interest/_call; the catalog spells it
	// interest/_call.
	method := strings.TrimPrefix(full, "/")

	var body []byte

	err := stream.RecvMsg(&body)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx := stream.Context()

	if p, ok := peer.FromContext(ctx); ok {
		ctx = mrpc.WithRemoteAddr(ctx, p.Addr.String())
	}

	resp, err := d.Dispatch(ctx, method, body)
	if err != nil {
		t.log.Error("call errored", "method", method, "error", err)
		return status.Error(statusCode(err), err.Error())
	}

	return stream.SendMsg(resp)
}

// statusCode maps dispatch errors onto gRPC status codes.
func statusCode(err error) codes.Code {
	switch cond.Code(err) {
	case "not-found":
		return codes.Unimplemented
	case "corruption", "invalid-config":
		return codes.InvalidArgument
	case "closed":
		return codes.Unavailable
	case "panic":
		return codes.Internal
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	return codes.Unknown
}

// Shutdown stops accepting calls and waits for in-flight ones until ctx
// ends, then force-terminates.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.gs == nil {
		return nil
	}

	done := make(chan struct{})

	go func() {
		t.gs.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.gs.Stop()
		<-done
	}

	return nil
}

// Port reports the bound TCP port, or 0 before Start.
func (t *Transport) Port() int {
	if t.li == nil {
		return 0
	}

	return t.li.Addr().(*net.TCPAddr).Port
}

// Addr reports the bound listen address, or "" before Start.
func (t *Transport) Addr() string {
	if t.li == nil {
		return ""
	}

	return t.li.Addr().String()
}

// Client is the gRPC side of mrpc.ClientTransport.
type Client struct {
	conn *grpc.ClientConn
}

// Dial prepares a client for remote with plaintext credentials. The
// connection is established lazily by gRPC.
func Dial(remote string, opts ...grpc.DialOption) (*Client, error) {
	all := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	}
	all = append(all, opts...)

	conn, err := grpc.NewClient(remote, all...)
	if err != nil {
		return nil, errors.Wrap(err, "grpc dial")
	}

	return &Client{conn: conn}, nil
}

// Invoke performs one unary call and returns the reply body.
func (c *Client) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	var resp []byte

	err := c.conn.Invoke(ctx, "/"+method, req, &resp)
	if err != nil {
		return nil, remoteError(err)
	}

	return resp, nil
}

// remoteError reconstructs a typed error from the gRPC status a server
// answered with.
func remoteError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unimplemented:
		return cond.RemoteError("rpc", "not-found", st.Message())
	case codes.InvalidArgument:
		return cond.RemoteError("rpc", "corruption", st.Message())
	case codes.Unavailable:
		return cond.RemoteError("rpc", "closed", st.Message())
	case codes.Internal:
		return cond.RemoteError("rpc", "panic", st.Message())
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	return cond.RemoteError("rpc", "unknown", st.Message())
}

func (c *Client) Close() error {
	return c.conn.Close()
}
