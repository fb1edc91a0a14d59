// Package decoder parses textual payloads and, when structured decoding is
// enabled, materialises them into the concrete Go type a parameter asks for.
package decoder

import (
	"encoding/json"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

// Config is the transformer configuration. It is built once at startup and
// passed by value; nothing mutates it afterwards.
type Config struct {
	// UseStructuredDecoding materialises payloads into concrete parameter
	// types. When false, parsed payloads are handed over as generic values.
	UseStructuredDecoding bool
	Decode                jsoncodec.DecodeOptions
	Encode                jsoncodec.EncodeOptions
}

// DefaultConfig enables structured decoding with encoding/json compatible
// options.
func DefaultConfig() Config {
	return Config{
		UseStructuredDecoding: true,
		Encode:                jsoncodec.DefaultEncodeOptions,
	}
}

// Validator checks materialised payloads.
type Validator interface {
	Validate(value any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(value any) error

func (f ValidatorFunc) Validate(value any) error { return f(value) }

// Option customises a Decoder.
type Option func(*Decoder)

// WithValidator validates every materialised value. A rejection surfaces as
// an InvalidPayloadError.
func WithValidator(v Validator) Option {
	return func(d *Decoder) { d.validator = v }
}

type Decoder struct {
	cfg       Config
	validator Validator
}

func New(cfg Config, opts ...Option) *Decoder {
	d := &Decoder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Decoder) Config() Config { return d.cfg }

// Decode parses textual payloads and materialises them when param.Type is a
// concrete type. Parse and materialisation failures are PayloadParseError
// values carrying the original input.
func (d *Decoder) Decode(value any, param descriptor.ParamDescriptor) (any, error) {
	opts := d.cfg.Decode
	if param.DecodeOptions != nil {
		opts = *param.DecodeOptions
	}
	api := jsoncodec.API(opts, d.cfg.Encode)
	text, isText := textOf(value)

	if !d.cfg.UseStructuredDecoding || !param.Type.Concrete() {
		if !isText {
			return value, nil
		}
		var parsed any
		if err := api.Unmarshal(text, &parsed); err != nil {
			return nil, &errspkg.PayloadParseError{Raw: value, Err: err}
		}
		return parsed, nil
	}

	out, err := d.materialize(api, opts, param.Type.Type(), value, text, isText)
	if err != nil {
		return nil, &errspkg.PayloadParseError{Raw: value, Err: err}
	}
	if d.validator != nil {
		if err := d.validator.Validate(out); err != nil {
			return nil, &errspkg.InvalidPayloadError{Err: err}
		}
	}
	return out, nil
}

type codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

func (d *Decoder) materialize(api codec, opts jsoncodec.DecodeOptions, target reflect.Type, value any, text []byte, isText bool) (any, error) {
	if !isText && value != nil && reflect.TypeOf(value).AssignableTo(target) {
		return value, nil
	}

	wantPtr := target.Kind() == reflect.Pointer
	base := target
	if wantPtr {
		base = target.Elem()
	}

	data := text
	if !isText {
		var err error
		if data, err = api.Marshal(value); err != nil {
			return nil, err
		}
	}

	dst := reflect.New(base)
	if msg, ok := dst.Interface().(proto.Message); ok {
		unmarshal := protojson.UnmarshalOptions{DiscardUnknown: !opts.DisallowUnknownFields}
		if err := unmarshal.Unmarshal(data, msg); err != nil {
			return nil, err
		}
	} else if err := api.Unmarshal(data, dst.Interface()); err != nil {
		return nil, err
	}

	if wantPtr {
		return dst.Interface(), nil
	}
	return dst.Elem().Interface(), nil
}

func textOf(value any) ([]byte, bool) {
	switch v := value.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	case json.RawMessage:
		return v, true
	}
	return nil, false
}
