package descriptor

import (
	"reflect"
	"strings"
)

// TypeHint is the runtime shape a parameter expects. The zero value is
// untyped and means "pass through".
type TypeHint struct {
	primitive string
	typ       reflect.Type
}

// Untyped returns the zero hint.
func Untyped() TypeHint { return TypeHint{} }

// Primitive returns a hint naming a primitive tag such as "number", "string",
// "boolean" or "object". Matching is case-insensitive.
func Primitive(name string) TypeHint {
	return TypeHint{primitive: strings.TrimSpace(name)}
}

// TypeOf returns a hint referencing the Go type T.
func TypeOf[T any]() TypeHint {
	return TypeHint{typ: reflect.TypeFor[T]()}
}

// TypeFrom returns a hint referencing t. A nil t yields the zero hint.
func TypeFrom(t reflect.Type) TypeHint {
	return TypeHint{typ: t}
}

// Type returns the referenced Go type, or nil for primitive and untyped hints.
func (h TypeHint) Type() reflect.Type { return h.typ }

func (h TypeHint) IsZero() bool { return h.typ == nil && h.primitive == "" }

// IsReference reports whether the hint references a Go type rather than a tag.
func (h TypeHint) IsReference() bool { return h.typ != nil }

// FormatName returns the lower-cased format used by the coercer: basic Go
// kinds map to "number", "string" and "boolean", interfaces and generic maps
// to "object", other references to their type name.
func (h TypeHint) FormatName() string {
	if h.typ == nil {
		return strings.ToLower(h.primitive)
	}
	t := h.typ
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Interface:
		return "object"
	case reflect.Map:
		if t.Name() == "" {
			return "object"
		}
	case reflect.Slice, reflect.Array:
		if t.Name() == "" {
			return "array"
		}
	}
	return strings.ToLower(t.Name())
}

// Concrete reports whether payloads can be materialised into the referenced
// type. Interfaces and the generic any, map[string]any and []any shapes are
// not concrete.
func (h TypeHint) Concrete() bool {
	if h.typ == nil {
		return false
	}
	t := h.typ
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return false
	case reflect.Map:
		return !(t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.Interface && t.Name() == "")
	case reflect.Slice:
		return !(t.Elem().Kind() == reflect.Interface && t.Name() == "")
	}
	return true
}

func (h TypeHint) String() string {
	if h.typ != nil {
		return h.typ.String()
	}
	if h.primitive == "" {
		return "untyped"
	}
	return h.primitive
}
