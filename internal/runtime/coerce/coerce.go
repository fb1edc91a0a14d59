// Package coerce converts raw payload values into the primitive format a
// parameter's type hint asks for. Conversions never fail: invalid numeric
// input becomes NaN and booleans fall back to truthiness. Object-shaped
// formats are handed to a structured decoder.
package coerce

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
)

// DecodeFunc materialises object-shaped payloads.
type DecodeFunc func(value any, param descriptor.ParamDescriptor) (any, error)

// Coercer dispatches on the parameter's format name.
type Coercer struct {
	decode DecodeFunc
}

// New returns a Coercer. A nil decode leaves object-shaped values unchanged.
func New(decode DecodeFunc) *Coercer {
	return &Coercer{decode: decode}
}

// Coerce converts value according to param.Type. Only the decode step can
// return an error.
func (c *Coercer) Coerce(value any, param descriptor.ParamDescriptor) (any, error) {
	format := param.Type.FormatName()
	switch format {
	case "number":
		return ToNumber(value), nil
	case "string":
		return value, nil
	case "boolean":
		return ToBoolean(value), nil
	}
	objectFormat := param.Type.IsReference() || format == "object"
	if objectFormat && Truthy(value) && c.decode != nil {
		return c.decode(value, param)
	}
	return value, nil
}

var decimalLiteral = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?$`)

// ToNumber converts v to a float64 the way a permissive numeric cast does:
// empty text is 0, booleans are 0 or 1, single-element lists take their
// element's value and anything unparsable is NaN.
func ToNumber(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		return stringToNumber(string(x))
	case string:
		return stringToNumber(x)
	case []byte:
		return stringToNumber(string(x))
	case json.RawMessage:
		return stringToNumber(string(x))
	case []any:
		switch len(x) {
		case 0:
			return 0
		case 1:
			if _, isBool := x[0].(bool); isBool {
				return math.NaN()
			}
			return ToNumber(x[0])
		}
		return math.NaN()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return stringToNumber(rv.String())
	case reflect.Bool:
		return ToNumber(rv.Bool())
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '\uFEFF' })
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			digits := s[2:]
			if digits[0] == '+' || digits[0] == '-' {
				return math.NaN()
			}
			n, ok := new(big.Int).SetString(digits, base)
			if !ok {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	}
	if !decimalLiteral.MatchString(s) {
		return math.NaN()
	}
	// ParseFloat reports overflow as ±Inf alongside ErrRange, which is the
	// value we want.
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// ToBoolean maps the literal strings "true" and "false" and otherwise falls
// back to Truthy. "0" and "no" are therefore true.
func ToBoolean(v any) bool {
	switch x := v.(type) {
	case string:
		switch x {
		case "true":
			return true
		case "false":
			return false
		}
	case []byte, json.RawMessage:
		switch string(asBytes(x)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return Truthy(v)
}

// Truthy reports whether v counts as set: nil, false, zero, NaN and empty
// text are falsy, everything else (including empty objects and lists) is
// truthy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []byte:
		return len(x) > 0
	case json.RawMessage:
		return len(x) > 0
	case json.Number:
		f := stringToNumber(string(x))
		return f != 0 && !math.IsNaN(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		f := ToNumber(v)
		return f != 0 && !math.IsNaN(f)
	case reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}

func asBytes(v any) []byte {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	return v.([]byte)
}
