// Package broker turns lifecycle and event messages forwarded by edge
// gateways into virtual connections. Gateways terminate the client sockets
// and talk to sockflow over a pub/sub backend:
//
//	<prefix>.connect     gateway -> sockflow  a client connected
//	<prefix>.event       gateway -> sockflow  a client sent an event
//	<prefix>.disconnect  gateway -> sockflow  a client went away
//	<prefix>.emit        sockflow -> gateway  an event for one client, or a kick
//
// Connection identity travels in message metadata (see metadata.Envelope);
// the message body is the JSON event payload, empty when there is none.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/bytedance/sonic"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/internal/runtime/metadata"
	"github.com/drblury/sockflow/pubsub"
	"github.com/drblury/sockflow/transport"
	"github.com/drblury/sockflow/transport/hub"
)

// DefaultPrefix is the topic prefix used when Options.Prefix is empty.
const DefaultPrefix = "sockflow"

// Topics names the four broker topics for one prefix.
type Topics struct {
	Connect    string
	Event      string
	Disconnect string
	Emit       string
}

func TopicsFor(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Connect:    prefix + ".connect",
		Event:      prefix + ".event",
		Disconnect: prefix + ".disconnect",
		Emit:       prefix + ".emit",
	}
}

type Options struct {
	Prefix string
	// Capabilities of the backend. Emits larger than MaxMessageSize are
	// rejected before publishing.
	Capabilities pubsub.Capabilities
	Decode       jsoncodec.DecodeOptions
	Encode       jsoncodec.EncodeOptions
	Logger       logging.ServiceLogger
	// CloseTimeout bounds how long Close waits for in-flight messages.
	CloseTimeout time.Duration
}

// Server is a transport.Server whose connections live behind a gateway.
type Server struct {
	*hub.Namespace

	hub     *hub.Hub
	backend pubsub.Backend
	topics  Topics
	caps    pubsub.Capabilities
	api     sonic.API
	logger  logging.ServiceLogger
	router  *message.Router

	closeOnce sync.Once
	closeErr  error
}

// New wires the inbound topics of backend to a fresh hub. Nothing is consumed
// until Serve runs.
func New(backend pubsub.Backend, opts Options) (*Server, error) {
	if backend.Publisher == nil || backend.Subscriber == nil {
		return nil, errspkg.ErrBackendRequired
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopServiceLogger()
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}

	s := &Server{
		hub:     hub.New(opts.Logger),
		backend: backend,
		topics:  TopicsFor(opts.Prefix),
		caps:    opts.Capabilities,
		api:     jsoncodec.API(opts.Decode, opts.Encode),
		logger:  opts.Logger.With(logging.LogFields{"transport": "broker"}),
	}
	s.Namespace = s.hub.Of(transport.DefaultNamespace)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: opts.CloseTimeout}, logging.NewWatermillAdapter(opts.Logger))
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler("sockflow_connect", s.topics.Connect, backend.Subscriber, s.handleConnect)
	router.AddNoPublisherHandler("sockflow_event", s.topics.Event, backend.Subscriber, s.handleEvent)
	router.AddNoPublisherHandler("sockflow_disconnect", s.topics.Disconnect, backend.Subscriber, s.handleDisconnect)
	s.router = router
	return s, nil
}

func (s *Server) Of(name string) transport.Namespace { return s.hub.Of(name) }

// Hub exposes the connection bookkeeping.
func (s *Server) Hub() *hub.Hub { return s.hub }

func (s *Server) Topics() Topics { return s.topics }

// Running is closed once every inbound topic is subscribed.
func (s *Server) Running() chan struct{} { return s.router.Running() }

// Serve consumes the inbound topics until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	return s.router.Run(ctx)
}

// Close kicks every virtual connection, stops consuming and closes the
// backend.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.hub.Close(hub.ReasonServerShutdown)
		if err := s.router.Close(); err != nil {
			s.closeErr = err
			return
		}
		s.closeErr = s.backend.Close()
	})
	return s.closeErr
}

func (s *Server) envelope(msg *message.Message) metadata.Envelope {
	return metadata.EnvelopeFrom(metadata.FromWatermill(msg.Metadata))
}

func (s *Server) handleConnect(msg *message.Message) error {
	env := s.envelope(msg)
	if env.ConnectionID == "" {
		s.logger.Info("Dropping connect without connection id", logging.LogFields{"message_uuid": msg.UUID})
		return nil
	}

	ns := s.hub.Of(env.Namespace)
	if _, exists := ns.Lookup(env.ConnectionID); exists {
		s.logger.Debug("duplicate connect ignored", logging.ConnectionFields(ns.Name(), env.ConnectionID))
		return nil
	}

	hs := env.Handshake()
	if hs.Time.IsZero() {
		hs.Time = ids.ConnectedAt(env.ConnectionID)
	}
	if hs.Time.IsZero() {
		hs.Time = time.Now()
	}
	ns.Accept(env.ConnectionID, hs, handshakeRequest(hs), &sender{
		server:    s,
		id:        env.ConnectionID,
		namespace: ns.Name(),
	})
	return nil
}

func (s *Server) handleEvent(msg *message.Message) error {
	env := s.envelope(msg)
	conn, ok := s.lookup(env)
	if !ok {
		s.logger.Info("Dropping event for unknown connection", s.fields(env))
		return nil
	}

	var payload any
	if len(msg.Payload) > 0 {
		if err := s.api.Unmarshal(msg.Payload, &payload); err != nil {
			// The action still runs; the resolver reports the bad payload.
			payload = string(msg.Payload)
		}
	}
	if delivered := conn.Deliver(env.Event, payload); delivered == 0 {
		s.logger.Debug("event without handlers", s.fields(env))
	}
	return nil
}

func (s *Server) handleDisconnect(msg *message.Message) error {
	env := s.envelope(msg)
	conn, ok := s.lookup(env)
	if !ok {
		s.logger.Info("Dropping disconnect for unknown connection", s.fields(env))
		return nil
	}
	reason := env.Reason
	if reason == "" {
		reason = hub.ReasonClientDisconnect
	}
	conn.Teardown(reason)
	return nil
}

func (s *Server) lookup(env metadata.Envelope) (*hub.Conn, bool) {
	if env.ConnectionID == "" {
		return nil, false
	}
	ns, ok := s.hub.Lookup(env.Namespace)
	if !ok {
		return nil, false
	}
	return ns.Lookup(env.ConnectionID)
}

func (s *Server) fields(env metadata.Envelope) logging.LogFields {
	fields := logging.ConnectionFields(transport.NormalizeNamespace(env.Namespace), env.ConnectionID)
	if env.Event != "" {
		fields["event"] = env.Event
	}
	return fields
}

// publish sends one outbound message on the emit topic.
func (s *Server) publish(env metadata.Envelope, payload any) error {
	var body []byte
	if payload != nil {
		data, err := s.api.Marshal(payload)
		if err != nil {
			return err
		}
		body = data
	}
	if !s.caps.FitsPayload(len(body)) {
		return fmt.Errorf("%w: %d bytes, %s allows %d", errspkg.ErrPayloadTooLarge, len(body), s.caps.Name, s.caps.MaxMessageSize)
	}

	msg := message.NewMessage(ids.CreateULID(), body)
	msg.Metadata = metadata.ToWatermill(env.Metadata())
	return s.backend.Publisher.Publish(s.topics.Emit, msg)
}

func handshakeRequest(hs transport.Handshake) *http.Request {
	target := hs.URL
	if target == "" {
		target = "/"
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	req.Header = hs.Headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.RemoteAddr = hs.Address
	return req
}

// sender is the hub.Sender of one virtual connection.
type sender struct {
	server    *Server
	id        string
	namespace string
}

func (p *sender) Send(event string, payload any) error {
	return p.server.publish(metadata.Envelope{
		ConnectionID: p.id,
		Namespace:    p.namespace,
		Event:        event,
	}, payload)
}

// Close tells the gateway to drop the client when the server ended the
// connection. Client-side disconnects are not echoed back.
func (p *sender) Close(reason string) error {
	if reason != hub.ReasonServerDisconnect && reason != hub.ReasonServerShutdown {
		return nil
	}
	return p.server.publish(metadata.Envelope{
		ConnectionID: p.id,
		Namespace:    p.namespace,
		Reason:       reason,
	}, nil)
}

var _ transport.Server = (*Server)(nil)
