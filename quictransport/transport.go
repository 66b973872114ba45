// Package quictransport carries mrpc calls over QUIC and HTTP/3.
//
// Each call is one POST to /_mrpc/call/<method>; the request body is the
// encoded request message and the response body is the encoded reply. Call
// outcome travels in the rpc-status / rpc-code / rpc-error trailers, so a
// reply body and a typed error never mix.
package quictransport

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"miren.dev/mrpc"
	"miren.dev/mrpc/pkg/cond"
)

const callPrefix = "/_mrpc/call/"

var defaultQUICConfig = quic.Config{
	MaxIncomingStreams:    1000,
	MaxIncomingUniStreams: 1000,
	Allow0RTT:             true,
	KeepAlivePeriod:       10 * time.Second,
}

func init() {
	mrpc.RegisterTransport("quic", func(addr string) (mrpc.Transport, error) {
		return New(addr), nil
	})
}

type options struct {
	log      *slog.Logger
	certPath string
	keyPath  string
	tlsCfg   *tls.Config
}

type Option func(*options)

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithCert serves the given certificate instead of a generated self-signed
// one.
func WithCert(certPath, keyPath string) Option {
	return func(o *options) {
		o.certPath = certPath
		o.keyPath = keyPath
	}
}

// WithTLSConfig overrides the server TLS configuration entirely.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsCfg = cfg
	}
}

// Transport serves mrpc calls over QUIC/HTTP3. The zero value is not
// usable; construct with New and hand it to the server with
// mrpc.WithTransport.
type Transport struct {
	addr string
	opts options

	log *slog.Logger

	udp *net.UDPConn
	qt  *quic.Transport
	li  *quic.EarlyListener
	hs  *http3.Server
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
		opts: o,
		log:  o.log.With("module", "quictransport"),
	}
}

func (t *Transport) serverTLS() (*tls.Config, error) {
	if t.opts.tlsCfg != nil {
		return t.opts.tlsCfg, nil
	}

	var (
		cert tls.Certificate
		err  error
	)

	if t.opts.certPath != "" && t.opts.keyPath != "" {
		cert, err = tls.LoadX509KeyPair(t.opts.certPath, t.opts.keyPath)
	} else {
		cert, err = generateSelfSignedCert()
	}

	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{http3.NextProtoH3},
	}, nil
}

// Start binds the UDP socket and begins serving calls. It returns once the
// listener is accepting or with the bind error.
func (t *Transport) Start(ctx context.Context, d mrpc.Dispatcher) error {
	up, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return errors.Wrap(err, "resolving listen address")
	}

	udpConn, err := net.ListenUDP("udp", up)
	if err != nil {
		return errors.Wrap(err, "binding udp socket")
	}

	tlsCfg, err := t.serverTLS()
	if err != nil {
		udpConn.Close()
		return errors.Wrap(err, "configuring tls")
	}

	t.udp = udpConn
	t.qt = &quic.Transport{Conn: udpConn}

	li, err := t.qt.ListenEarly(tlsCfg, &defaultQUICConfig)
	if err != nil {
		udpConn.Close()
		return errors.Wrap(err, "starting quic listener")
	}

	t.li = li

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+callPrefix+"{method...}", func(w http.ResponseWriter, r *http.Request) {
		t.handleCall(w, r, d)
	})

	t.hs = &http3.Server{
		Handler: mux,
		Logger:  t.log.With("module", "http3"),
	}

	go t.hs.ServeListener(li)

	t.log.Debug("listening", "addr", udpConn.LocalAddr())

	return nil
}

func (t *Transport) handleCall(w http.ResponseWriter, r *http.Request, d mrpc.Dispatcher) {
	method := r.PathValue("method")

	w.Header().Set("Trailer", "rpc-status, rpc-code, rpc-error")

	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		w.Header().Set("rpc-status", "error")
		w.Header().Set("rpc-code", "corruption")
		w.Header().Set("rpc-error", err.Error())
		return
	}

	ctx := mrpc.WithRemoteAddr(r.Context(), r.RemoteAddr)

	ctx, span := otel.Tracer("miren.dev/mrpc/quictransport").Start(ctx, "mrpc.handle."+method)
	defer span.End()

	span.SetAttributes(attribute.String("rpc.method", method))

	resp, err := d.Dispatch(ctx, method, body)
	if err != nil {
		t.log.Error("call errored", "method", method, "error", err)

		code := cond.Code(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = "closed"
		}

		w.WriteHeader(http.StatusOK)
		w.Header().Set("rpc-status", "error")
		w.Header().Set("rpc-code", code)
		w.Header().Set("rpc-error", err.Error())
		return
	}

	w.Write(resp)
	w.Header().Set("rpc-status", "ok")
}

// Shutdown drains the HTTP/3 server until ctx ends, then closes the
// listener and socket.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.hs == nil {
		return nil
	}

	err := t.hs.Shutdown(ctx)
	if err != nil {
		t.hs.Close()
	}

	t.li.Close()
	t.udp.Close()

	return nil
}

// Port reports the bound UDP port, or 0 before Start.
func (t *Transport) Port() int {
	if t.udp == nil {
		return 0
	}

	return t.udp.LocalAddr().(*net.UDPAddr).Port
}

// Addr reports the bound listen address, or "" before Start.
func (t *Transport) Addr() string {
	if t.udp == nil {
		return ""
	}

	return t.udp.LocalAddr().String()
}
