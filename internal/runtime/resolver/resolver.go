// Package resolver turns one raw payload value into one action argument.
package resolver

import (
	"context"
	"encoding/json"

	"github.com/drblury/sockflow/internal/runtime/coerce"
	"github.com/drblury/sockflow/internal/runtime/decoder"
	"github.com/drblury/sockflow/internal/runtime/descriptor"
	"github.com/drblury/sockflow/transport"
)

// Resolver applies format coercion, structured decoding and the parameter's
// transform, in that order.
type Resolver struct {
	coercer *coerce.Coercer
	decoder *decoder.Decoder
}

// New wires a Resolver around dec. A nil dec uses decoder.DefaultConfig.
func New(dec *decoder.Decoder) *Resolver {
	if dec == nil {
		dec = decoder.New(decoder.DefaultConfig())
	}
	return &Resolver{
		coercer: coerce.New(dec.Decode),
		decoder: dec,
	}
}

// Decoder exposes the structured decoder so transports can share its
// encode options.
func (r *Resolver) Decoder() *decoder.Decoder { return r.decoder }

// Resolve produces the argument for param from raw. Empty raw values (nil,
// "" or zero-length bytes) skip coercion and are passed to the transform
// unchanged, so a transform can supply defaults. The transform may block.
func (r *Resolver) Resolve(ctx context.Context, param descriptor.ParamDescriptor, raw any, conn transport.Conn) (any, error) {
	value := raw
	if !IsEmpty(raw) {
		coerced, err := r.coercer.Coerce(raw, param)
		if err != nil {
			return nil, err
		}
		value = coerced
	}
	if param.Transform == nil {
		return value, nil
	}
	return param.Transform(ctx, value, conn)
}

// IsEmpty reports whether raw counts as "no payload".
func IsEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case json.RawMessage:
		return len(v) == 0
	}
	return false
}
