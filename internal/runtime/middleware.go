package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	loggingpkg "github.com/drblury/sockflow/internal/runtime/logging"
)

const tracerName = "sockflow"

// MiddlewareBuilder constructs an action middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (invoker.Middleware, error)

// MiddlewareRegistration captures how a middleware should be added to a
// Service's invocation chain. Registrations run in order: the first one is
// outermost.
type MiddlewareRegistration struct {
	Name       string
	Middleware invoker.Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RecovererMiddleware(),
		CorrelationIDMiddleware(),
		LogActionsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
	}
}

type correlationIDKey struct{}

// WithCorrelationID returns a copy of ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the invocation's correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationIDMiddleware ensures each invocation carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

func correlationIDMiddleware(next invoker.Handler) invoker.Handler {
	return func(ctx context.Context, call *invoker.Call) error {
		if CorrelationIDFromContext(ctx) == "" {
			ctx = WithCorrelationID(ctx, idspkg.CreateULID())
		}
		return next(ctx, call)
	}
}

// LogActionsMiddleware logs every invocation at debug level. A nil logger
// falls back to the service logger.
func LogActionsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_actions",
		Builder: func(s *Service) (invoker.Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log actions middleware requires a logger")
			}
			return logActionsMiddleware(l), nil
		},
	}
}

func logActionsMiddleware(logger loggingpkg.ServiceLogger) invoker.Middleware {
	return func(next invoker.Handler) invoker.Handler {
		return func(ctx context.Context, call *invoker.Call) error {
			logger.Debug("Invoking action", loggingpkg.LogFields{
				"controller":     call.Controller,
				"namespace":      call.Namespace,
				"action":         call.Action.Name,
				"kind":           call.Action.Kind.String(),
				"event":          call.Action.Event,
				"connection_id":  call.ConnectionID(),
				"correlation_id": CorrelationIDFromContext(ctx),
				"payload":        call.Context.Data,
			})
			return next(ctx, call)
		}
	}
}

// TracerMiddleware wraps each invocation in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

func tracerMiddleware(next invoker.Handler) invoker.Handler {
	return func(ctx context.Context, call *invoker.Call) error {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "InvokeAction")
		defer span.End()

		span.SetAttributes(
			attribute.String("sockflow.controller", call.Controller),
			attribute.String("sockflow.namespace", call.Namespace),
			attribute.String("sockflow.action", call.Action.Name),
			attribute.String("sockflow.kind", call.Action.Kind.String()),
			attribute.String("sockflow.event", call.Action.Event),
			attribute.String("sockflow.connection_id", call.ConnectionID()),
		)
		if id := CorrelationIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("sockflow.correlation_id", id))
		}

		err := next(ctx, call)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(invoker.StageOf(err)))
		}
		return err
	}
}

// MetricsMiddleware records Prometheus invocation counters and latencies and
// serves them on /metrics when MetricsEnabled is set.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (invoker.Middleware, error) {
			if s.Conf == nil || !s.Conf.MetricsEnabled {
				return nil, nil
			}

			collectors, err := newActionCollectors(s.metricsRegisterer)
			if err != nil {
				return nil, err
			}

			if s.Conf.MetricsPort > 0 {
				handler := promhttp.Handler()
				if gatherer, ok := s.metricsRegisterer.(prometheus.Gatherer); ok {
					handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
				}
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", handler)
			}

			return collectors.middleware, nil
		},
	}
}

type actionCollectors struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

func newActionCollectors(reg prometheus.Registerer) (*actionCollectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &actionCollectors{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockflow",
			Name:      "action_invocations_total",
			Help:      "Number of socket controller action invocations.",
		}, []string{"controller", "action", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sockflow",
			Name:      "action_duration_seconds",
			Help:      "Duration of socket controller action invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"controller", "action"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sockflow",
			Name:      "action_in_flight",
			Help:      "Socket controller action invocations currently running.",
		}, []string{"controller", "action"}),
	}

	var err error
	if c.invocations, err = registerCollector(reg, c.invocations); err != nil {
		return nil, err
	}
	if c.duration, err = registerCollector(reg, c.duration); err != nil {
		return nil, err
	}
	if c.inFlight, err = registerCollector(reg, c.inFlight); err != nil {
		return nil, err
	}
	return c, nil
}

// registerCollector registers collector, reusing an identical collector that
// is already registered.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func (c *actionCollectors) middleware(next invoker.Handler) invoker.Handler {
	return func(ctx context.Context, call *invoker.Call) error {
		controller, action := call.Controller, call.Action.Name
		gauge := c.inFlight.WithLabelValues(controller, action)
		gauge.Inc()
		start := time.Now()

		err := next(ctx, call)

		gauge.Dec()
		c.duration.WithLabelValues(controller, action).Observe(time.Since(start).Seconds())
		result := "success"
		if err != nil {
			result = string(invoker.StageOf(err)) + "_error"
		}
		c.invocations.WithLabelValues(controller, action, result).Inc()
		return err
	}
}

// RecovererMiddleware converts panics raised anywhere in the chain into
// invocation errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: recovererMiddleware,
	}
}

// PanicError is returned by the recoverer middleware.
type PanicError struct {
	Value      any
	Stacktrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic occurred: %v", e.Value)
}

func recovererMiddleware(next invoker.Handler) invoker.Handler {
	return func(ctx context.Context, call *invoker.Call) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stacktrace: string(debug.Stack())}
			}
		}()
		return next(ctx, call)
	}
}

// RegisterMiddleware appends the supplied middleware to the invocation chain.
// It must be called before Start.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s == nil {
		return errors.New("service is not initialised")
	}

	var mw invoker.Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.middlewareMu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.middlewareMu.Unlock()
	return nil
}
