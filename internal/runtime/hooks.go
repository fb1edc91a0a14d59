package runtime

import (
	"context"
	"time"

	"github.com/drblury/sockflow/internal/runtime/invoker"
)

// InvocationContext provides information about one action invocation to hooks.
type InvocationContext struct {
	// Controller is the name of the controller owning the action.
	Controller string
	// Namespace is the controller namespace, empty for the default one.
	Namespace string
	// Action is the action name.
	Action string
	// Kind is "connect", "disconnect" or "message".
	Kind string
	// Event is the event name of message actions.
	Event string
	// ConnectionID identifies the connection that triggered the invocation.
	ConnectionID string
	// CorrelationID is set when the correlation id middleware runs before the hooks.
	CorrelationID string
	// Context is the invocation context.
	Context context.Context
	// StartedAt is when the invocation started.
	StartedAt time.Time
	// Duration is how long the invocation took (only set in OnDone and OnError).
	Duration time.Duration
}

// InvocationHooks defines callbacks for invocation lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type InvocationHooks struct {
	// OnStart is called before the arguments are resolved.
	OnStart func(ctx InvocationContext)

	// OnDone is called when the action returned without error.
	OnDone func(ctx InvocationContext)

	// OnError is called when resolution or the action failed.
	OnError func(ctx InvocationContext, err error)
}

// Merge combines two InvocationHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h InvocationHooks) Merge(other InvocationHooks) InvocationHooks {
	return InvocationHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(InvocationContext)) func(InvocationContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(InvocationContext, error)) func(InvocationContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// InvocationHooksMiddleware creates a middleware that invokes the provided
// hooks around every action invocation.
func InvocationHooksMiddleware(hooks InvocationHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "invocation_hooks",
		Middleware: invocationHooksMiddleware(hooks),
	}
}

func invocationHooksMiddleware(hooks InvocationHooks) invoker.Middleware {
	return func(next invoker.Handler) invoker.Handler {
		return func(ctx context.Context, call *invoker.Call) error {
			ictx := newInvocationContext(ctx, call)

			if hooks.OnStart != nil {
				hooks.OnStart(ictx)
			}

			err := next(ctx, call)
			ictx.Duration = time.Since(ictx.StartedAt)

			if err != nil {
				if hooks.OnError != nil {
					hooks.OnError(ictx, err)
				}
			} else if hooks.OnDone != nil {
				hooks.OnDone(ictx)
			}
			return err
		}
	}
}

func newInvocationContext(ctx context.Context, call *invoker.Call) InvocationContext {
	return InvocationContext{
		Controller:    call.Controller,
		Namespace:     call.Namespace,
		Action:        call.Action.Name,
		Kind:          call.Action.Kind.String(),
		Event:         call.Action.Event,
		ConnectionID:  call.ConnectionID(),
		CorrelationID: CorrelationIDFromContext(ctx),
		Context:       ctx,
		StartedAt:     time.Now(),
	}
}

// LoggingHooks returns pre-built hooks that log invocation lifecycle events.
func LoggingHooks(logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}) InvocationHooks {
	return InvocationHooks{
		OnStart: func(ctx InvocationContext) {
			logger.Info("Action started", map[string]interface{}{
				"controller":    ctx.Controller,
				"action":        ctx.Action,
				"event":         ctx.Event,
				"connection_id": ctx.ConnectionID,
			})
		},
		OnDone: func(ctx InvocationContext) {
			logger.Info("Action completed", map[string]interface{}{
				"controller":    ctx.Controller,
				"action":        ctx.Action,
				"connection_id": ctx.ConnectionID,
				"duration_ms":   ctx.Duration.Milliseconds(),
			})
		},
		OnError: func(ctx InvocationContext, err error) {
			logger.Error("Action failed", err, map[string]interface{}{
				"controller":    ctx.Controller,
				"action":        ctx.Action,
				"connection_id": ctx.ConnectionID,
				"duration_ms":   ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that report invocations to caller
// supplied counters.
func MetricsHooks(onStart, onDone, onError func(controller, action string)) InvocationHooks {
	return InvocationHooks{
		OnStart: func(ctx InvocationContext) {
			if onStart != nil {
				onStart(ctx.Controller, ctx.Action)
			}
		},
		OnDone: func(ctx InvocationContext) {
			if onDone != nil {
				onDone(ctx.Controller, ctx.Action)
			}
		},
		OnError: func(ctx InvocationContext, err error) {
			if onError != nil {
				onError(ctx.Controller, ctx.Action)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed invocations.
func AlertingHooks(alertFunc func(ctx InvocationContext, err error)) InvocationHooks {
	return InvocationHooks{
		OnError: alertFunc,
	}
}
