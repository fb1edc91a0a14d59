// Package descriptor holds the immutable controller, action and parameter
// descriptions the binder and invoker work from. Descriptors are produced by
// the fluent builder in builder.go; nothing here inspects user types at
// registration time.
package descriptor

import (
	"context"
	"fmt"
	"sort"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
	"github.com/drblury/sockflow/transport"
)

// ActionKind selects the lifecycle event an action is bound to.
type ActionKind int

const (
	OnConnect ActionKind = iota + 1
	OnDisconnect
	OnMessage
)

func (k ActionKind) String() string {
	switch k {
	case OnConnect:
		return "connect"
	case OnDisconnect:
		return "disconnect"
	case OnMessage:
		return "message"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Valid reports whether k is one of the three known kinds.
func (k ActionKind) Valid() bool {
	return k >= OnConnect && k <= OnMessage
}

// InvokeFunc calls the user-defined action with its arguments in index order.
type InvokeFunc func(ctx context.Context, args []any) error

// TransformFunc post-processes a payload argument. It may block; the invoker
// runs it off the caller's goroutine.
type TransformFunc func(ctx context.Context, value any, conn transport.Conn) (any, error)

// ParamDescriptor describes one formal parameter of an action.
type ParamDescriptor struct {
	Index     int
	Source    ParamSource
	Type      TypeHint
	Transform TransformFunc
	// DecodeOptions overrides the process-wide decode options for this
	// parameter when non-nil.
	DecodeOptions *jsoncodec.DecodeOptions
}

// ActionDescriptor describes one event handler.
type ActionDescriptor struct {
	Name   string
	Kind   ActionKind
	Event  string
	Params []ParamDescriptor
	Invoke InvokeFunc
}

// Validate checks the action invariants: a known kind, an event name exactly
// when the kind is OnMessage, an invoke function and unique, non-negative
// parameter indexes.
func (a ActionDescriptor) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %s", errspkg.ErrActionKindInvalid, a.Kind)
	}
	if a.Kind == OnMessage && a.Event == "" {
		return errspkg.ErrEventNameRequired
	}
	if a.Kind != OnMessage && a.Event != "" {
		return fmt.Errorf("%w: %s action has event %q", errspkg.ErrEventNameForbidden, a.Kind, a.Event)
	}
	if a.Invoke == nil {
		return errspkg.ErrInvokeRequired
	}
	seen := make(map[int]struct{}, len(a.Params))
	for _, p := range a.Params {
		if p.Index < 0 {
			return fmt.Errorf("%w: %d", errspkg.ErrNegativeParamIndex, p.Index)
		}
		if _, dup := seen[p.Index]; dup {
			return fmt.Errorf("%w: %d", errspkg.ErrDuplicateParamIndex, p.Index)
		}
		seen[p.Index] = struct{}{}
		if err := p.Source.validate(); err != nil {
			return fmt.Errorf("parameter %d: %w", p.Index, err)
		}
	}
	return nil
}

// SortedParams returns a copy of the parameters ordered by ascending Index.
// Declaration order carries no meaning.
func (a ActionDescriptor) SortedParams() []ParamDescriptor {
	sorted := make([]ParamDescriptor, len(a.Params))
	copy(sorted, a.Params)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}

// ControllerDescriptor groups the actions of one logical channel. An empty
// Namespace means the default namespace.
type ControllerDescriptor struct {
	Name      string
	Namespace string
	Actions   []ActionDescriptor
}

// HasNamespace reports whether the controller is scoped to a named namespace.
func (c ControllerDescriptor) HasNamespace() bool {
	return c.Namespace != ""
}

// Validate checks the controller and all of its actions.
func (c ControllerDescriptor) Validate() error {
	if c.Name == "" {
		return errspkg.ErrControllerNameRequired
	}
	seen := make(map[string]struct{}, len(c.Actions))
	for _, a := range c.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("controller %q action %q: %w", c.Name, a.Name, err)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("controller %q: %w: %s", c.Name, errspkg.ErrDuplicateActionName, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Clone deep-copies the action and parameter slices so the caller cannot
// mutate a descriptor after handing it over.
func (c ControllerDescriptor) Clone() ControllerDescriptor {
	cloned := ControllerDescriptor{Name: c.Name, Namespace: c.Namespace}
	if len(c.Actions) == 0 {
		return cloned
	}
	cloned.Actions = make([]ActionDescriptor, len(c.Actions))
	for i, a := range c.Actions {
		params := make([]ParamDescriptor, len(a.Params))
		copy(params, a.Params)
		a.Params = params
		cloned.Actions[i] = a
	}
	return cloned
}
