package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/sockflow/internal/runtime/config"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/invoker"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("adds missing id", func(t *testing.T) {
		var seen string
		err := correlationIDMiddleware(func(ctx context.Context, _ *invoker.Call) error {
			seen = CorrelationIDFromContext(ctx)
			return nil
		})(context.Background(), testCall("chat", "echo"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(seen) != 26 {
			t.Fatalf("expected a ULID correlation id, got %q", seen)
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "fixed")
		err := correlationIDMiddleware(func(ctx context.Context, _ *invoker.Call) error {
			if got := CorrelationIDFromContext(ctx); got != "fixed" {
				t.Fatalf("expected correlation id to be preserved, got %q", got)
			}
			return nil
		})(ctx, testCall("chat", "echo"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCorrelationIDFromContextWithoutValue(t *testing.T) {
	t.Parallel()

	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestLogActionsMiddleware(t *testing.T) {
	t.Parallel()

	logger := &recordingServiceLogger{}
	reg := LogActionsMiddleware(logger)
	mw, err := reg.Builder(&Service{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mw(func(context.Context, *invoker.Call) error { return nil })(context.Background(), testCall("chat", "echo")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.debugCount() != 1 {
		t.Fatalf("expected one debug log, got %d", logger.debugCount())
	}
}

func TestLogActionsMiddlewareValidations(t *testing.T) {
	t.Parallel()

	if _, err := LogActionsMiddleware(nil).Builder(&Service{}); err == nil {
		t.Fatal("expected error when no logger is available")
	}

	fallback := &recordingServiceLogger{}
	mw, err := LogActionsMiddleware(nil).Builder(&Service{Logger: fallback})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = mw(func(context.Context, *invoker.Call) error { return nil })(context.Background(), testCall("chat", "echo"))
	if fallback.debugCount() != 1 {
		t.Fatal("expected the service logger to be used")
	}
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	var observed trace.Span
	err := tracerMiddleware(func(ctx context.Context, _ *invoker.Call) error {
		observed = trace.SpanFromContext(ctx)
		return nil
	})(context.Background(), testCall("chat", "echo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestTracerMiddlewarePropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := &errspkg.ActionError{Action: "echo", Err: errors.New("boom")}
	ctx := WithCorrelationID(context.Background(), "corr")
	err := tracerMiddleware(func(context.Context, *invoker.Call) error { return boom })(ctx, testCall("chat", "echo"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected action error, got %v", err)
	}
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()

	err := recovererMiddleware(func(context.Context, *invoker.Call) error {
		panic("kaboom")
	})(context.Background(), testCall("chat", "echo"))

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.Value != "kaboom" {
		t.Fatalf("unexpected panic value: %v", panicErr.Value)
	}
	if !strings.Contains(panicErr.Stacktrace, "goroutine") {
		t.Fatal("expected a stack trace")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	t.Run("requires service", func(t *testing.T) {
		var svc *Service
		if err := svc.RegisterMiddleware(RecovererMiddleware()); err == nil {
			t.Fatal("expected error for nil service")
		}
	})

	t.Run("requires configuration", func(t *testing.T) {
		if err := (&Service{}).RegisterMiddleware(MiddlewareRegistration{Name: "empty"}); err == nil {
			t.Fatal("expected error for empty registration")
		}
	})

	t.Run("invokes builder", func(t *testing.T) {
		svc := &Service{}
		called := false
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Name: "custom",
			Builder: func(s *Service) (invoker.Middleware, error) {
				called = s == svc
				return func(next invoker.Handler) invoker.Handler { return next }, nil
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called || len(svc.middlewares) != 1 {
			t.Fatalf("expected builder to register one middleware, called=%v len=%d", called, len(svc.middlewares))
		}
	})

	t.Run("builder error", func(t *testing.T) {
		boom := errors.New("boom")
		err := (&Service{}).RegisterMiddleware(MiddlewareRegistration{
			Builder: func(*Service) (invoker.Middleware, error) { return nil, boom },
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected builder error, got %v", err)
		}
	})

	t.Run("nil middleware from builder", func(t *testing.T) {
		svc := &Service{}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(*Service) (invoker.Middleware, error) { return nil, nil },
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(svc.middlewares) != 0 {
			t.Fatal("nil middleware must not be registered")
		}
	})
}

func TestMiddlewareChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) MiddlewareRegistration {
		return MiddlewareRegistration{Name: name, Middleware: func(next invoker.Handler) invoker.Handler {
			return func(ctx context.Context, call *invoker.Call) error {
				order = append(order, name)
				return next(ctx, call)
			}
		}}
	}

	svc := &Service{}
	for _, name := range []string{"first", "second"} {
		if err := svc.RegisterMiddleware(mark(name)); err != nil {
			t.Fatal(err)
		}
	}
	h := invoker.Chain(func(context.Context, *invoker.Call) error {
		order = append(order, "handler")
		return nil
	}, svc.middlewares...)
	if err := h(context.Background(), testCall("chat", "echo")); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "first,second,handler" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestMetricsMiddlewareDisabled(t *testing.T) {
	t.Parallel()

	mw, err := MetricsMiddleware().Builder(&Service{Conf: &configpkg.Config{MetricsEnabled: false}})
	if err != nil {
		t.Fatal(err)
	}
	if mw != nil {
		t.Fatal("expected nil middleware when disabled")
	}
}

func TestMetricsMiddlewareRecordsInvocations(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	svc := &Service{
		Conf:              &configpkg.Config{MetricsEnabled: true, MetricsPort: 9464},
		Logger:            newTestLogger(),
		metricsRegisterer: registry,
	}
	mw, err := MetricsMiddleware().Builder(svc)
	if err != nil {
		t.Fatalf("unexpected error building metrics middleware: %v", err)
	}
	if mw == nil {
		t.Fatal("expected middleware to be returned")
	}

	ok := mw(func(context.Context, *invoker.Call) error { return nil })
	failing := mw(func(context.Context, *invoker.Call) error {
		return &errspkg.ResolutionError{Action: "echo", Source: "payload", Err: errors.New("bad")}
	})
	_ = ok(context.Background(), testCall("chat", "echo"))
	_ = ok(context.Background(), testCall("chat", "echo"))
	_ = failing(context.Background(), testCall("chat", "echo"))

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	results := map[string]float64{}
	var observations uint64
	for _, family := range families {
		switch family.GetName() {
		case "sockflow_action_invocations_total":
			for _, m := range family.GetMetric() {
				for _, label := range m.GetLabel() {
					if label.GetName() == "result" {
						results[label.GetValue()] = m.GetCounter().GetValue()
					}
				}
			}
		case "sockflow_action_duration_seconds":
			for _, m := range family.GetMetric() {
				observations += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if results["success"] != 2 || results["resolution_error"] != 1 {
		t.Fatalf("unexpected invocation counters: %v", results)
	}
	if observations != 3 {
		t.Fatalf("expected 3 duration observations, got %d", observations)
	}

	handler := svc.HTTPHandler(9464)
	if handler == nil {
		t.Fatal("expected /metrics to be registered on the metrics port")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sockflow_action_invocations_total") {
		t.Fatalf("unexpected /metrics response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsMiddlewareReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	build := func() invoker.Middleware {
		svc := &Service{Conf: &configpkg.Config{MetricsEnabled: true}, metricsRegisterer: registry}
		mw, err := MetricsMiddleware().Builder(svc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return mw
	}
	first, second := build(), build()
	_ = first(func(context.Context, *invoker.Call) error { return nil })(context.Background(), testCall("chat", "echo"))
	_ = second(func(context.Context, *invoker.Call) error { return nil })(context.Background(), testCall("chat", "echo"))

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, family := range families {
		if family.GetName() == "sockflow_action_invocations_total" {
			if got := family.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Fatalf("expected both services to share the counter, got %v", got)
			}
			return
		}
	}
	t.Fatal("invocation counter not gathered")
}
