package quictransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"miren.dev/mrpc/pkg/cond"
)

// connCacheSize bounds how many remote connections one client keeps warm.
const connCacheSize = 16

type cachedConn struct {
	ec quic.EarlyConnection
	hc *http3.ClientConn
}

type clientOptions struct {
	tlsCfg *tls.Config
}

type ClientOption func(*clientOptions)

// WithClientTLSConfig overrides the client TLS configuration. The default
// skips verification, matching the server's self-signed certificate.
func WithClientTLSConfig(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) {
		o.tlsCfg = cfg
	}
}

// Client is the QUIC side of mrpc.ClientTransport. It dials lazily and
// keeps recently used connections in an LRU cache; evicted connections are
// closed.
type Client struct {
	remote string
	tlsCfg *tls.Config

	udp *net.UDPConn
	qt  *quic.Transport
	ht  *http3.Transport

	mu    sync.Mutex
	conns *lru.Cache[string, *cachedConn]
}

// Dial prepares a client for remote. No packets move until the first
// Invoke.
func Dial(remote string, opts ...ClientOption) (*Client, error) {
	var o clientOptions

	for _, opt := range opts {
		opt(&o)
	}

	if o.tlsCfg == nil {
		o.tlsCfg = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{http3.NextProtoH3},
		}
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "binding client socket")
	}

	c := &Client{
		remote: remote,
		tlsCfg: o.tlsCfg,
		udp:    udpConn,
		qt:     &quic.Transport{Conn: udpConn},
		ht: &http3.Transport{
			TLSClientConfig: o.tlsCfg,
			QUICConfig:      &defaultQUICConfig,
		},
	}

	c.conns, err = lru.NewWithEvict(connCacheSize, func(_ string, cc *cachedConn) {
		cc.ec.CloseWithError(0, "evicted")
	})
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) conn(ctx context.Context, remote string) (*cachedConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns.Get(remote); ok {
		select {
		case <-cc.ec.Context().Done():
			c.conns.Remove(remote)
		default:
			return cc, nil
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}

	ec, err := c.qt.DialEarly(ctx, udpAddr, c.tlsCfg, &defaultQUICConfig)
	if err != nil {
		return nil, errors.Wrap(err, "dialing")
	}

	// Wait out the handshake; the call data must not ride 0-RTT.
	select {
	case <-ec.HandshakeComplete():
	case <-ctx.Done():
		ec.CloseWithError(0, "handshake abandoned")
		return nil, ctx.Err()
	}

	cc := &cachedConn{
		ec: ec,
		hc: c.ht.NewClientConn(ec),
	}

	c.conns.Add(remote, cc)

	return cc, nil
}

// Invoke performs one unary call and returns the reply body.
func (c *Client) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	ctx, span := otel.Tracer("miren.dev/mrpc/quictransport").Start(ctx, "mrpc.call."+method)
	defer span.End()

	span.SetAttributes(attribute.String("rpc.method", method))

	cc, err := c.conn(ctx, c.remote)
	if err != nil {
		return nil, err
	}

	rs, err := cc.hc.OpenRequestStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening request stream")
	}

	url := "https://" + c.remote + callPrefix + method

	hr, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}

	err = rs.SendRequestHeader(hr)
	if err != nil {
		return nil, errors.Wrap(err, "sending request header")
	}

	_, err = rs.Write(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending request body")
	}

	rs.Close()

	resp, err := readResponse(rs)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, cond.NotFound("method", method)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	// http3 populates the trailers as a side effect of draining the body.
	io.Copy(io.Discard, resp.Body)

	switch resp.Trailer.Get("rpc-status") {
	case "ok", "":
		return body, nil
	case "error":
		return nil, cond.RemoteError("rpc",
			resp.Trailer.Get("rpc-code"),
			resp.Trailer.Get("rpc-error"))
	}

	return nil, errors.Errorf("unknown rpc-status: %s", resp.Trailer.Get("rpc-status"))
}

// readResponse skips non-terminal 1xx responses, bounded the way net/http
// bounds them.
func readResponse(rs http3.RequestStream) (*http.Response, error) {
	const max1xxResponses = 5

	num1xx := 0

	for {
		hr, err := rs.ReadResponse()
		if err != nil {
			return nil, err
		}

		resCode := hr.StatusCode
		is1xx := 100 <= resCode && resCode <= 199
		if is1xx && resCode != http.StatusSwitchingProtocols {
			num1xx++
			if num1xx > max1xxResponses {
				return nil, errors.New("http: too many 1xx informational responses")
			}
			continue
		}

		return hr, nil
	}
}

// Close closes all cached connections and the client socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns.Purge()
	c.ht.Close()

	return c.udp.Close()
}
