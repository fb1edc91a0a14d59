package sockflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sockflow/transport/memory"
)

type greeting struct {
	Name string `json:"name"`
}

func TestFacadeDispatchesThroughMemoryTransport(t *testing.T) {
	conf := DefaultConfig()
	conf.Transport = "memory"
	srv := memory.New()

	svc, err := TryNewService(&conf, NewNopServiceLogger(), context.Background(), ServiceDependencies{
		Server:            srv,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctrl := NewController("greeter").
		Namespace("greet").
		Handle(OnMessage, "hello", "hello", func(conn Conn, in greeting) error {
			return conn.Emit("hello", "hi "+in.Name)
		}, ConnectionParam(0), PayloadParam(1, WithType(TypeOf[greeting]()))).
		MustBuild()
	MustRegisterController(svc, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	<-svc.Bound()

	client, err := srv.Connect(context.Background(), "/greet", memory.Dial{})
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if err := client.Send("hello", `{"name":"ada"}`); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	msg, err := client.Next(waitCtx)
	if err != nil {
		t.Fatalf("expected a reply: %v", err)
	}
	if msg.Event != "hello" || msg.Data != "hi ada" {
		t.Fatalf("unexpected reply: %+v", msg)
	}
}

func TestRegisterControllerExportPropagatesErrors(t *testing.T) {
	ctrl := NewController("x").
		Handle(OnConnect, "hello", "", func() {}).
		MustBuild()
	if err := RegisterController(nil, ctrl); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
	if _, err := NewController("").Build(); !errors.Is(err, ErrControllerNameRequired) {
		t.Fatalf("expected controller name error, got %v", err)
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestTypeOfExport(t *testing.T) {
	hint := TypeOf[greeting]()
	if !hint.Concrete() {
		t.Fatal("expected a concrete hint for a struct type")
	}
	if Untyped().Concrete() {
		t.Fatal("untyped hint must not be concrete")
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryParse != "parse" {
		t.Fatalf("expected ErrorCategoryParse to be 'parse', got %q", ErrorCategoryParse)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
