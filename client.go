package mrpc

import (
	"context"
)

// ClientTransport moves call bytes for a client. Implementations translate
// transport-level failures into cond errors where they can.
type ClientTransport interface {
	Invoke(ctx context.Context, method string, req []byte) ([]byte, error)
	Close() error
}

// Client issues unary calls by interest. It is safe for concurrent use if
// its transport is.
type Client struct {
	t     ClientTransport
	codec Codec
}

// NewClient wraps a client transport. A nil codec means CBOR; whichever is
// used must match the server's.
func NewClient(t ClientTransport, codec Codec) *Client {
	if codec == nil {
		codec = CBORCodec{}
	}

	return &Client{t: t, codec: codec}
}

// Call sends args for interest and decodes the reply into result. A nil
// result discards the reply body.
func (c *Client) Call(ctx context.Context, interest string, args, result any) error {
	data, err := c.codec.Marshal(args)
	if err != nil {
		return err
	}

	resp, err := c.t.Invoke(ctx, FullMethod(interest), data)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	return c.codec.Unmarshal(resp, result)
}

func (c *Client) Close() error {
	return c.t.Close()
}
