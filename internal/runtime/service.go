package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sockflow/internal/runtime/binder"
	configpkg "github.com/drblury/sockflow/internal/runtime/config"
	"github.com/drblury/sockflow/internal/runtime/decoder"
	"github.com/drblury/sockflow/internal/runtime/descriptor"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	loggingpkg "github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/internal/runtime/resolver"
	transportpkg "github.com/drblury/sockflow/internal/runtime/transport"
	"github.com/drblury/sockflow/transport"
)

const httpShutdownTimeout = 5 * time.Second

var transportServe = func(server transport.Server, ctx context.Context) error {
	return server.Serve(ctx)
}

var listenAndServe = func(srv *http.Server) error {
	return srv.ListenAndServe()
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to fall back to the configuration driven defaults.
type ServiceDependencies struct {
	// Server is used as the transport when set; otherwise TransportFactory
	// builds one from the configuration.
	Server           transport.Server
	TransportFactory transportpkg.Factory
	// Validator checks every materialised payload.
	Validator decoder.Validator
	// ErrorSink receives failed invocations. Defaults to logging them.
	ErrorSink                 invoker.ErrorSink
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	ErrorClassifier           ErrorClassifier
	// BindControllers restricts Start to the named controllers.
	BindControllers []string
	// MetricsRegisterer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service owns the controller set, the transport and the invocation chain of
// one socket server.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	server   transport.Server
	decoder  *decoder.Decoder
	resolver *resolver.Resolver

	errorSink         invoker.ErrorSink
	bindControllers   []string
	metricsRegisterer prometheus.Registerer

	middlewares  []invoker.Middleware
	middlewareMu sync.Mutex

	controllers   []descriptor.ControllerDescriptor
	controllersMu sync.RWMutex

	actions   []*ActionInfo
	actionsMu sync.RWMutex

	httpServers   map[int]chi.Router
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker

	started atomic.Bool
	bound   chan struct{}
	invoker *invoker.Invoker
	binder  *binder.Binder
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot. Register controllers on the returned Service before calling
// Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning the construction error.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log.Info("Creating socket service", loggingpkg.LogFields{
		"transport": conf.Transport,
		"config":    conf,
	})

	var decoderOpts []decoder.Option
	if deps.Validator != nil {
		decoderOpts = append(decoderOpts, decoder.WithValidator(deps.Validator))
	}
	dec := decoder.New(conf.TransformerConfig(), decoderOpts...)

	s := &Service{
		Conf:              conf,
		Logger:            log,
		decoder:           dec,
		resolver:          resolver.New(dec),
		errorSink:         deps.ErrorSink,
		bindControllers:   append([]string(nil), deps.BindControllers...),
		metricsRegisterer: deps.MetricsRegisterer,
		errorClassifier:   deps.ErrorClassifier,
		resourceTracker:   newResourceTracker(),
		bound:             make(chan struct{}),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}
	if s.metricsRegisterer == nil {
		s.metricsRegisterer = prometheus.DefaultRegisterer
	}

	server := deps.Server
	if server == nil {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		var err error
		server, err = factory.Build(ctx, conf, log)
		if err != nil {
			return nil, err
		}
	}
	s.server = server

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = server.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Bound is closed once Start has bound the controllers to the transport.
func (s *Service) Bound() <-chan struct{} { return s.bound }

// Server returns the transport the service binds to.
func (s *Service) Server() transport.Server { return s.server }

// Start binds the registered controllers to the transport and serves it until
// ctx ends. It then closes the transport, waits for in-flight invocations and
// stops the HTTP servers.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("service already started")
	}

	s.middlewareMu.Lock()
	chain := make([]invoker.Middleware, 0, len(s.middlewares)+1)
	chain = append(chain, s.statsMiddleware)
	chain = append(chain, s.middlewares...)
	s.middlewareMu.Unlock()

	s.invoker = invoker.New(s.resolver, s.server,
		invoker.WithLogger(s.Logger),
		invoker.WithErrorSink(s.errorSink),
		invoker.WithMiddleware(chain...),
	)
	// Disconnect actions run while the transport shuts down, after ctx ended.
	s.binder = binder.New(s.server, s.invoker,
		binder.WithLogger(s.Logger),
		binder.WithContext(context.WithoutCancel(ctx)),
	)

	controllers := s.Controllers(s.bindControllers...)
	s.binder.Bind(controllers)

	s.StartStatsServer()
	servers := s.startHTTPServers()
	close(s.bound)

	serveErr := transportServe(s.server, ctx)
	closeErr := s.server.Close()
	s.binder.Wait()
	s.shutdownHTTPServers(servers)

	if serveErr != nil {
		return serveErr
	}
	return closeErr
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// RegisterHTTPHandler mounts handler on pattern of the HTTP server listening
// on port. Servers are started by Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]chi.Router)
	}

	router, ok := s.httpServers[port]
	if !ok {
		router = chi.NewRouter()
		s.httpServers[port] = router
	}

	router.Handle(pattern, handler)
}

// HTTPHandler returns the router registered for port, or nil.
func (s *Service) HTTPHandler(port int) http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	router, ok := s.httpServers[port]
	if !ok {
		return nil
	}
	return router
}

func (s *Service) startHTTPServers() []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, router := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
	return servers
}

func (s *Service) shutdownHTTPServers(servers []*http.Server) {
	if len(servers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
