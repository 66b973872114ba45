package mrpc

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"

	"miren.dev/mrpc/pkg/cond"
)

// Codec encodes and decodes message bodies on the wire. Both sides of a
// connection must agree on the codec; servers and clients default to CBOR.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CBORCodec carries messages as CBOR. This is the default codec.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBORCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// ProtoCodec carries protobuf messages. Factories registered alongside it
// must produce proto.Message values.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, cond.InvalidConfig("codec", "%T is not a proto.Message", v)
	}

	return proto.Marshal(m)
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return cond.InvalidConfig("codec", "%T is not a proto.Message", v)
	}

	return proto.Unmarshal(data, m)
}

// RawCodec passes byte slices through untouched. Transports use it to frame
// bodies that the dispatch layer decodes itself.
type RawCodec struct{}

func (RawCodec) Name() string { return "raw" }

func (RawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}

	return nil, cond.InvalidConfig("codec", "raw codec requires []byte, got %T", v)
}

func (RawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return cond.InvalidConfig("codec", "raw codec requires *[]byte, got %T", v)
	}

	*b = data
	return nil
}
