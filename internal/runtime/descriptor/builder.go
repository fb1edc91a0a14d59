package descriptor

import (
	"errors"
	"fmt"

	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

// ControllerBuilder assembles a ControllerDescriptor. Problems are collected
// and reported together by Build.
type ControllerBuilder struct {
	desc ControllerDescriptor
	errs []error
}

// NewController starts a controller description.
func NewController(name string) *ControllerBuilder {
	return &ControllerBuilder{desc: ControllerDescriptor{Name: name}}
}

// Namespace scopes the controller to ns. Leaving it unset binds the
// controller to the default namespace.
func (b *ControllerBuilder) Namespace(ns string) *ControllerBuilder {
	b.desc.Namespace = ns
	return b
}

func (b *ControllerBuilder) OnConnect(name string, invoke InvokeFunc, params ...ParamDescriptor) *ControllerBuilder {
	return b.Action(ActionDescriptor{Name: name, Kind: OnConnect, Invoke: invoke, Params: params})
}

func (b *ControllerBuilder) OnDisconnect(name string, invoke InvokeFunc, params ...ParamDescriptor) *ControllerBuilder {
	return b.Action(ActionDescriptor{Name: name, Kind: OnDisconnect, Invoke: invoke, Params: params})
}

func (b *ControllerBuilder) OnMessage(name, event string, invoke InvokeFunc, params ...ParamDescriptor) *ControllerBuilder {
	return b.Action(ActionDescriptor{Name: name, Kind: OnMessage, Event: event, Invoke: invoke, Params: params})
}

// Handle binds fn through Func. Adapter errors surface from Build.
func (b *ControllerBuilder) Handle(kind ActionKind, name, event string, fn any, params ...ParamDescriptor) *ControllerBuilder {
	invoke, err := Func(fn)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("action %q: %w", name, err))
		return b
	}
	return b.Action(ActionDescriptor{Name: name, Kind: kind, Event: event, Invoke: invoke, Params: params})
}

// Action appends a fully specified action.
func (b *ControllerBuilder) Action(action ActionDescriptor) *ControllerBuilder {
	b.desc.Actions = append(b.desc.Actions, action)
	return b
}

// Build validates and returns an independent copy of the descriptor.
func (b *ControllerBuilder) Build() (ControllerDescriptor, error) {
	errs := append([]error(nil), b.errs...)
	if err := b.desc.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return ControllerDescriptor{}, errors.Join(errs...)
	}
	return b.desc.Clone(), nil
}

// MustBuild is Build for package-level descriptor declarations.
func (b *ControllerBuilder) MustBuild() ControllerDescriptor {
	desc, err := b.Build()
	if err != nil {
		panic(err)
	}
	return desc
}

// ParamOption customises a payload parameter.
type ParamOption func(*ParamDescriptor)

func WithType(hint TypeHint) ParamOption {
	return func(p *ParamDescriptor) { p.Type = hint }
}

func WithTransform(fn TransformFunc) ParamOption {
	return func(p *ParamDescriptor) { p.Transform = fn }
}

// WithDecodeOptions overrides the process-wide decode options for one
// parameter.
func WithDecodeOptions(opts jsoncodec.DecodeOptions) ParamOption {
	return func(p *ParamDescriptor) { p.DecodeOptions = &opts }
}

func ConnectionParam(index int) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceConnection()}
}

func TransportParam(index int) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceTransport()}
}

func QueryParam(index int, name string) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceQuery(name)}
}

func ConnectionIDParam(index int) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceConnectionID()}
}

func RequestParam(index int) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceRequest()}
}

func RoomsParam(index int) ParamDescriptor {
	return ParamDescriptor{Index: index, Source: SourceRooms()}
}

// PayloadParam receives the event payload, coerced according to its type hint.
func PayloadParam(index int, opts ...ParamOption) ParamDescriptor {
	p := ParamDescriptor{Index: index, Source: SourcePayload()}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}
