// Package invoker builds an action's argument list and calls the action.
//
// Arguments are resolved in ascending parameter index order. Connection
// derived sources and payloads without a transform resolve inline; payloads
// with a transform run concurrently and are joined before the action runs.
// Any failure aborts the invocation, is reported to the error sink and is
// returned to the caller.
package invoker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/internal/runtime/resolver"
	"github.com/drblury/sockflow/transport"
)

// Context is what an event hands to an invocation. Conn is nil only when the
// invoker is driven directly; Data is the event payload, nil for lifecycle
// actions.
type Context struct {
	Conn transport.Conn
	Data any
}

// Call is one invocation travelling through the middleware chain.
type Call struct {
	Controller string
	Namespace  string
	Action     descriptor.ActionDescriptor
	Context    Context
}

// ConnectionID returns the id of the call's connection, or "".
func (c *Call) ConnectionID() string {
	if c == nil || c.Context.Conn == nil {
		return ""
	}
	return c.Context.Conn.ID()
}

// Handler processes a Call.
type Handler func(ctx context.Context, call *Call) error

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Stage says where an invocation failed.
type Stage string

const (
	StageResolution Stage = "resolution"
	StageAction     Stage = "action"
)

// Failure is what the error sink receives.
type Failure struct {
	Stage        Stage
	Controller   string
	Action       string
	ConnectionID string
	Err          error
}

// ErrorSink receives every failed invocation before the error is returned.
type ErrorSink func(ctx context.Context, failure Failure)

// LogErrorSink reports failures through log.
func LogErrorSink(log logging.ServiceLogger) ErrorSink {
	return func(_ context.Context, f Failure) {
		msg := "Error during computation params of the socket controller"
		if f.Stage == StageAction {
			msg = "Error during execution of the socket controller action"
		}
		log.Error(msg, f.Err, logging.LogFields{
			"stage":         string(f.Stage),
			"controller":    f.Controller,
			"action":        f.Action,
			"connection_id": f.ConnectionID,
		})
	}
}

// Option customises an Invoker.
type Option func(*Invoker)

func WithErrorSink(sink ErrorSink) Option {
	return func(i *Invoker) {
		if sink != nil {
			i.sink = sink
		}
	}
}

func WithLogger(log logging.ServiceLogger) Option {
	return func(i *Invoker) {
		if log != nil {
			i.logger = log
		}
	}
}

// WithMiddleware wraps the core handler. The first middleware is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(i *Invoker) { i.middleware = append(i.middleware, mw...) }
}

type Invoker struct {
	resolver   *resolver.Resolver
	server     transport.Server
	logger     logging.ServiceLogger
	sink       ErrorSink
	middleware []Middleware
	handler    Handler
}

// New builds an Invoker. server is handed to transport-handle parameters and
// may be nil when no action asks for it.
func New(res *resolver.Resolver, server transport.Server, opts ...Option) *Invoker {
	if res == nil {
		res = resolver.New(nil)
	}
	i := &Invoker{
		resolver: res,
		server:   server,
		logger:   logging.NewNopServiceLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	if i.sink == nil {
		i.sink = LogErrorSink(i.logger)
	}
	i.handler = Chain(i.handle, i.middleware...)
	return i
}

// Chain wraps h so that mw[0] runs first.
func Chain(h Handler, mw ...Middleware) Handler {
	for idx := len(mw) - 1; idx >= 0; idx-- {
		if mw[idx] != nil {
			h = mw[idx](h)
		}
	}
	return h
}

// Invoke runs action with ictx.
func (i *Invoker) Invoke(ctx context.Context, action descriptor.ActionDescriptor, ictx Context) error {
	return i.Dispatch(ctx, &Call{Action: action, Context: ictx})
}

// Dispatch runs call through the middleware chain and reports failures to
// the error sink.
func (i *Invoker) Dispatch(ctx context.Context, call *Call) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := i.handler(ctx, call)
	if err != nil {
		i.sink(ctx, Failure{
			Stage:        StageOf(err),
			Controller:   call.Controller,
			Action:       call.Action.Name,
			ConnectionID: call.ConnectionID(),
			Err:          err,
		})
	}
	return err
}

// StageOf classifies err as a resolution or an action failure.
func StageOf(err error) Stage {
	var resErr *errspkg.ResolutionError
	if errors.As(err, &resErr) {
		return StageResolution
	}
	return StageAction
}

func (i *Invoker) handle(ctx context.Context, call *Call) error {
	args, err := i.ResolveArgs(ctx, call.Action, call.Context)
	if err != nil {
		return err
	}
	if err := callAction(ctx, call.Action, args); err != nil {
		return &errspkg.ActionError{Action: call.Action.Name, Err: err}
	}
	return nil
}

// ResolveArgs returns the action's arguments ordered by parameter index.
// The result holds one slot per declared parameter; gaps in the index
// sequence do not produce empty slots.
func (i *Invoker) ResolveArgs(ctx context.Context, action descriptor.ActionDescriptor, ictx Context) ([]any, error) {
	params := action.SortedParams()
	args := make([]any, len(params))
	var pending []int

	for pos, p := range params {
		if p.Source.Kind() == descriptor.SourceKindPayload {
			if p.Transform != nil {
				pending = append(pending, pos)
				continue
			}
			v, err := i.resolver.Resolve(ctx, p, ictx.Data, ictx.Conn)
			if err != nil {
				return nil, resolutionError(action, p, err)
			}
			args[pos] = v
			continue
		}
		v, err := i.direct(p, ictx)
		if err != nil {
			return nil, resolutionError(action, p, err)
		}
		args[pos] = v
	}

	if len(pending) == 0 {
		return args, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pos := range pending {
		p := params[pos]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = resolutionError(action, p, fmt.Errorf("transform panicked: %v", r))
				}
			}()
			v, err := i.resolver.Resolve(gctx, p, ictx.Data, ictx.Conn)
			if err != nil {
				return resolutionError(action, p, err)
			}
			args[pos] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return args, nil
}

func (i *Invoker) direct(p descriptor.ParamDescriptor, ictx Context) (any, error) {
	if p.Source.Kind() == descriptor.SourceKindTransport {
		return i.server, nil
	}
	conn := ictx.Conn
	if conn == nil {
		return nil, errspkg.ErrConnectionRequired
	}
	switch p.Source.Kind() {
	case descriptor.SourceKindConnection:
		return conn, nil
	case descriptor.SourceKindQuery:
		if v, ok := conn.Handshake().Query.Lookup(p.Source.QueryName()); ok {
			return v, nil
		}
		return nil, nil
	case descriptor.SourceKindConnectionID:
		return conn.ID(), nil
	case descriptor.SourceKindRequest:
		return conn.Request(), nil
	case descriptor.SourceKindRooms:
		return conn.Rooms(), nil
	}
	return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownParamSource, p.Source)
}

func callAction(ctx context.Context, action descriptor.ActionDescriptor, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return action.Invoke(ctx, args)
}

func resolutionError(action descriptor.ActionDescriptor, p descriptor.ParamDescriptor, err error) error {
	return &errspkg.ResolutionError{
		Action: action.Name,
		Index:  p.Index,
		Source: p.Source.String(),
		Err:    err,
	}
}
