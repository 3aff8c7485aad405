package grpcstream

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame carries one protocol message. On the wire it is
//
//	message Frame { bytes payload = 1; }
//
// so generated clients in other languages interoperate.
type Frame struct {
	Payload []byte
}

func (f *Frame) marshal() []byte {
	var out []byte
	if len(f.Payload) > 0 {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, f.Payload)
	}
	return out
}

func (f *Frame) unmarshal(b []byte) error {
	f.Payload = nil
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.Payload = append([]byte(nil), v...)
			b = b[n:]
			continue
		}
		// skip unknown fields
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// frameCodec stands in for generated protobuf code. It is named "proto" so
// it answers the default content-subtype.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("grpcstream: cannot marshal %T", v)
	}
	return f.marshal(), nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("grpcstream: cannot unmarshal into %T", v)
	}
	return f.unmarshal(data)
}

func (frameCodec) Name() string { return "proto" }
