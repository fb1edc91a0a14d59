package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/sockflow/internal/runtime/config"
	"github.com/drblury/sockflow/internal/runtime/descriptor"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	loggingpkg "github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/transport/memory"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.Transport = configpkg.TransportMemory
	return &conf
}

// newTestService builds a Service on a memory transport with an isolated
// Prometheus registry.
func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) (*Service, *memory.Server) {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	srv, _ := deps.Server.(*memory.Server)
	if srv == nil {
		srv = memory.New()
		deps.Server = srv
	}
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	svc, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	return svc, srv
}

// startService runs svc.Start in the background and stops it on cleanup.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	select {
	case <-svc.Bound():
	case err := <-done:
		t.Fatalf("service stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not bind")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("service stopped with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testCall(controller, action string) *invoker.Call {
	return &invoker.Call{
		Controller: controller,
		Namespace:  "/chat",
		Action: descriptor.ActionDescriptor{
			Name:  action,
			Kind:  descriptor.OnMessage,
			Event: "say",
		},
	}
}

type recordingServiceLogger struct {
	mu     sync.Mutex
	debugs []string
	infos  []string
	errors []string
}

func (r *recordingServiceLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }

func (r *recordingServiceLogger) Debug(msg string, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debugs = append(r.debugs, msg)
}

func (r *recordingServiceLogger) Info(msg string, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingServiceLogger) Error(msg string, _ error, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingServiceLogger) Trace(string, loggingpkg.LogFields) {}

func (r *recordingServiceLogger) debugCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.debugs)
}

func (r *recordingServiceLogger) infoMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}
