// Package transport builds the transport.Server selected by the
// configuration.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sockflow/internal/runtime/config"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/pubsub"
	httpbackend "github.com/drblury/sockflow/pubsub/http"
	sockettransport "github.com/drblury/sockflow/transport"
	"github.com/drblury/sockflow/transport/broker"
	"github.com/drblury/sockflow/transport/memory"
	"github.com/drblury/sockflow/transport/websocket"

	// Import all backends to register them.
	_ "github.com/drblury/sockflow/pubsub/backends"
)

// Factory abstracts how sockflow initialises its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (sockettransport.Server, error)
}

// DefaultFactory returns the built-in factory. "memory" and "websocket" are
// served directly; any backend in pubsub.DefaultRegistry runs the broker
// transport on top of it.
func DefaultFactory() Factory {
	return defaultFactory{registry: pubsub.DefaultRegistry}
}

// NewFactory is DefaultFactory with a custom backend registry.
func NewFactory(registry *pubsub.Registry) Factory {
	return defaultFactory{registry: registry}
}

type defaultFactory struct {
	registry *pubsub.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (sockettransport.Server, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	tc := conf.TransformerConfig()

	switch name := conf.GetBackend(); name {
	case "":
		return nil, errspkg.ErrTransportRequired
	case config.TransportMemory:
		return memory.New(memory.WithLogger(logger)), nil
	case config.TransportWebSocket:
		return websocket.New(websocket.Options{
			Addr:           conf.WebSocketAddr,
			Path:           conf.WebSocketPath,
			AllowedOrigins: conf.WebSocketAllowedOrigins,
			ReadLimit:      conf.WebSocketReadLimit,
			PingInterval:   conf.WebSocketPingInterval,
			Decode:         tc.Decode,
			Encode:         tc.Encode,
			Logger:         logger,
		}), nil
	default:
		if !f.registry.Has(name) {
			return nil, fmt.Errorf("%w: %q (backends: %v)", errspkg.ErrUnknownTransport, name, f.registry.Names())
		}
		wmLogger := logging.NewWatermillAdapter(logger)
		backend, err := f.registry.Build(ctx, conf, wmLogger)
		if err != nil {
			return nil, err
		}
		srv, err := broker.New(backend, broker.Options{
			Prefix:       conf.BrokerTopicPrefix,
			Capabilities: f.registry.GetCapabilities(name),
			Decode:       tc.Decode,
			Encode:       tc.Encode,
			Logger:       logger,
		})
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		if name == httpbackend.BackendName {
			return &httpBroker{Server: srv, subscriber: backend.Subscriber, logger: wmLogger}, nil
		}
		return srv, nil
	}
}

// httpBroker starts the http backend's listener once the broker has
// subscribed to its topics; the watermill http subscriber only serves the
// topics registered before it starts.
type httpBroker struct {
	*broker.Server
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

func (h *httpBroker) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-h.Running():
			httpbackend.StartServer(h.subscriber, h.logger)
		case <-ctx.Done():
		}
	}()
	return h.Server.Serve(ctx)
}
