package decoder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func param(hint descriptor.TypeHint, opts ...descriptor.ParamOption) descriptor.ParamDescriptor {
	return descriptor.PayloadParam(0, append([]descriptor.ParamOption{descriptor.WithType(hint)}, opts...)...)
}

func TestDecodeMaterialisesConcreteTypes(t *testing.T) {
	d := New(DefaultConfig())

	got, err := d.Decode(`{"name":"ada","age":36}`, param(descriptor.TypeOf[profile]()))
	require.NoError(t, err)
	assert.Equal(t, profile{Name: "ada", Age: 36}, got)

	got, err = d.Decode([]byte(`{"name":"ada"}`), param(descriptor.TypeOf[*profile]()))
	require.NoError(t, err)
	assert.Equal(t, &profile{Name: "ada"}, got)

	got, err = d.Decode(map[string]any{"name": "bob", "age": float64(4)}, param(descriptor.TypeOf[profile]()))
	require.NoError(t, err)
	assert.Equal(t, profile{Name: "bob", Age: 4}, got)
}

func TestDecodeKeepsAlreadyTypedValues(t *testing.T) {
	d := New(DefaultConfig())
	in := &profile{Name: "same"}

	got, err := d.Decode(in, param(descriptor.TypeOf[*profile]()))
	require.NoError(t, err)
	assert.Same(t, in, got)
}

func TestDecodeParsesGenericShapes(t *testing.T) {
	d := New(DefaultConfig())

	got, err := d.Decode(`{"name":"ada"}`, param(descriptor.Primitive("object")))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, got)

	got, err = d.Decode(json.RawMessage(`[1,2]`), param(descriptor.TypeOf[[]any]()))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, got)

	in := map[string]any{"k": "v"}
	got, err = d.Decode(in, param(descriptor.TypeOf[map[string]any]()))
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestDecodeWithoutStructuredDecodingReturnsParsedValue(t *testing.T) {
	d := New(Config{})

	got, err := d.Decode(`{"name":"ada"}`, param(descriptor.TypeOf[profile]()))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, got)
}

func TestDecodeReportsUnparseablePayload(t *testing.T) {
	d := New(DefaultConfig())

	for _, hint := range []descriptor.TypeHint{descriptor.TypeOf[profile](), descriptor.Primitive("object")} {
		_, err := d.Decode("{not json", param(hint))
		var parseErr *errspkg.PayloadParseError
		require.ErrorAs(t, err, &parseErr, "hint %s", hint)
		assert.Equal(t, "{not json", parseErr.Raw)
	}
}

func TestDecodeReportsShapeMismatchAsParseError(t *testing.T) {
	d := New(DefaultConfig())

	_, err := d.Decode(`{"name":42}`, param(descriptor.TypeOf[profile]()))
	var parseErr *errspkg.PayloadParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, `{"name":42}`, parseErr.Raw)
}

func TestDecodeParamOptionsOverrideGlobal(t *testing.T) {
	d := New(DefaultConfig())
	raw := `{"name":"ada","extra":true}`

	_, err := d.Decode(raw, param(descriptor.TypeOf[profile]()))
	require.NoError(t, err)

	_, err = d.Decode(raw, param(descriptor.TypeOf[profile](),
		descriptor.WithDecodeOptions(jsoncodec.DecodeOptions{DisallowUnknownFields: true})))
	var parseErr *errspkg.PayloadParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestDecodeGlobalUseNumber(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decode.UseNumber = true
	d := New(cfg)

	got, err := d.Decode(`{"n":12}`, param(descriptor.Primitive("object")))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": json.Number("12")}, got)
}

func TestDecodeProtoMessages(t *testing.T) {
	d := New(DefaultConfig())

	got, err := d.Decode(`{"room":"lobby","size":3}`, param(descriptor.TypeOf[*structpb.Struct]()))
	require.NoError(t, err)
	msg, ok := got.(*structpb.Struct)
	require.True(t, ok, "expected *structpb.Struct, got %T", got)
	assert.Equal(t, "lobby", msg.GetFields()["room"].GetStringValue())
	assert.Equal(t, float64(3), msg.GetFields()["size"].GetNumberValue())
}

func TestDecodeValidator(t *testing.T) {
	rejected := errors.New("name required")
	d := New(DefaultConfig(), WithValidator(ValidatorFunc(func(v any) error {
		if p, ok := v.(profile); ok && p.Name == "" {
			return rejected
		}
		return nil
	})))

	_, err := d.Decode(`{"age":3}`, param(descriptor.TypeOf[profile]()))
	var invalid *errspkg.InvalidPayloadError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, rejected)

	_, err = d.Decode(`{"name":"ok"}`, param(descriptor.TypeOf[profile]()))
	assert.NoError(t, err)
}
