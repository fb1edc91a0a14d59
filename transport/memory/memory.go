// Package memory is an in-process transport. Clients connect through
// Server.Connect and exchange events with the server without any framing;
// payloads are handed over as Go values.
package memory

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/transport"
	"github.com/drblury/sockflow/transport/hub"
)

// Option customises a Server.
type Option func(*Server)

func WithLogger(log logging.ServiceLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// Server is a transport.Server whose connections live in the same process.
type Server struct {
	*hub.Namespace

	hub    *hub.Hub
	logger logging.ServiceLogger

	closeOnce sync.Once
	done      chan struct{}
}

func New(opts ...Option) *Server {
	s := &Server{
		logger: logging.NewNopServiceLogger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.hub = hub.New(s.logger)
	s.Namespace = s.hub.Of(transport.DefaultNamespace)
	return s
}

func (s *Server) Of(name string) transport.Namespace { return s.hub.Of(name) }

// Hub exposes the connection bookkeeping.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Serve blocks until ctx ends or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.Close(hub.ReasonServerShutdown)
	})
	return nil
}

// Dial describes the handshake of a memory connection.
type Dial struct {
	Query   transport.Query
	Headers http.Header
	Address string
}

// Connect opens a connection to namespace. Connection handlers have run by
// the time it returns.
func (s *Server) Connect(ctx context.Context, namespace string, dial Dial) (*Client, error) {
	select {
	case <-s.done:
		return nil, errspkg.ErrServerClosed
	default:
	}

	ns := transport.NormalizeNamespace(namespace)
	values := url.Values{}
	for k, v := range dial.Query {
		values.Set(k, v)
	}
	u := url.URL{Scheme: "memory", Host: "local", Path: ns, RawQuery: values.Encode()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if dial.Headers != nil {
		req.Header = dial.Headers.Clone()
	}
	address := dial.Address
	if address == "" {
		address = "memory"
	}
	req.RemoteAddr = address

	client := &Client{signal: make(chan struct{})}
	hs := transport.Handshake{
		Query:   dial.Query.Clone(),
		Headers: req.Header.Clone(),
		Address: address,
		URL:     u.RequestURI(),
		Time:    time.Now(),
	}
	client.conn = s.hub.Of(ns).Accept(ids.NewConnectionID(), hs, req, peer{client})
	return client, nil
}

// Message is one event the server emitted to a client.
type Message struct {
	Event string
	Data  any
}

// Client is the peer side of a memory connection.
type Client struct {
	conn *hub.Conn

	mu       sync.Mutex
	received []Message
	read     int
	signal   chan struct{}
	closed   bool
	reason   string
}

func (c *Client) ID() string { return c.conn.ID() }

// Conn is the server-side view of this client.
func (c *Client) Conn() transport.Conn { return c.conn }

// Send fires event on the server. Handlers run on the calling goroutine.
func (c *Client) Send(event string, payload any) error {
	if c.isClosed() {
		return errspkg.ErrConnectionClosed
	}
	c.conn.Deliver(event, payload)
	return nil
}

// Received returns every message emitted to the client so far.
func (c *Client) Received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.received...)
}

// Next returns the oldest unread message, waiting for one when needed.
func (c *Client) Next(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if c.read < len(c.received) {
			msg := c.received[c.read]
			c.read++
			c.mu.Unlock()
			return msg, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Message{}, errspkg.ErrConnectionClosed
		}
		signal := c.signal
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-signal:
		}
	}
}

// Close disconnects from the client side.
func (c *Client) Close() error {
	if c.isClosed() {
		return errspkg.ErrConnectionClosed
	}
	c.conn.Teardown(hub.ReasonClientDisconnect)
	return nil
}

// Disconnected reports the reason once the connection is gone.
func (c *Client) Disconnected() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.closed
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) wake() {
	close(c.signal)
	c.signal = make(chan struct{})
}

// peer is the hub.Sender of a memory connection.
type peer struct{ c *Client }

func (p peer) Send(event string, payload any) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.c.closed {
		return errspkg.ErrConnectionClosed
	}
	p.c.received = append(p.c.received, Message{Event: event, Data: payload})
	p.c.wake()
	return nil
}

func (p peer) Close(reason string) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.closed = true
	p.c.reason = reason
	p.c.wake()
	return nil
}

var _ transport.Server = (*Server)(nil)
