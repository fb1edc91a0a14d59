package descriptor

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Func adapts an ordinary Go function into an InvokeFunc. The function may
// take a context.Context as its first parameter and may return a single error.
// Each resolved argument is assigned to the matching parameter: nil becomes
// the zero value, values are dereferenced or addressed as needed and numeric
// values are converted between numeric kinds.
func Func(fn any) (InvokeFunc, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %T", errspkg.ErrNotAFunc, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic %s", errspkg.ErrNotAFunc, t)
	}
	switch {
	case t.NumOut() == 0:
	case t.NumOut() == 1 && t.Out(0) == errorType:
	default:
		return nil, fmt.Errorf("%w: %s must return nothing or error", errspkg.ErrNotAFunc, t)
	}

	offset := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		offset = 1
	}
	arity := t.NumIn() - offset

	return func(ctx context.Context, args []any) error {
		if len(args) != arity {
			return fmt.Errorf("%w: want %d, got %d", errspkg.ErrArgumentCount, arity, len(args))
		}
		in := make([]reflect.Value, t.NumIn())
		if offset == 1 {
			if ctx == nil {
				ctx = context.Background()
			}
			in[0] = reflect.ValueOf(&ctx).Elem()
		}
		for i, arg := range args {
			av, err := assignArg(arg, t.In(i+offset))
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			in[i+offset] = av
		}
		out := v.Call(in)
		if len(out) == 1 && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}, nil
}

// MustFunc is Func that panics on an unusable fn.
func MustFunc(fn any) InvokeFunc {
	invoke, err := Func(fn)
	if err != nil {
		panic(err)
	}
	return invoke
}

func assignArg(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	av := reflect.ValueOf(arg)
	at := av.Type()
	switch {
	case at.AssignableTo(target):
		return av, nil
	case target.Kind() == reflect.Pointer && at.AssignableTo(target.Elem()):
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(av)
		return ptr, nil
	case at.Kind() == reflect.Pointer && !av.IsNil() && at.Elem().AssignableTo(target):
		return av.Elem(), nil
	case isNumericKind(at.Kind()) && isNumericKind(target.Kind()):
		return av.Convert(target), nil
	case at.Kind() == target.Kind() && at.ConvertibleTo(target):
		return av.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", errspkg.ErrArgumentType, at, target)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
