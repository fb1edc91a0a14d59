// Package websocket serves sockflow connections over WebSocket. Each text
// frame carries one event as a JSON object:
//
//	{"event": "chat", "data": {"text": "hi"}}
//
// The URL path below the mount path selects the namespace, so a client of
// the "/chat" namespace dials <Path>/chat. The query string is the handshake
// query.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/transport"
	"github.com/drblury/sockflow/transport/hub"
)

const (
	DefaultPath      = "/socket"
	DefaultReadLimit = 4096
	DefaultPingEvery = 54 * time.Second

	writeWait       = 10 * time.Second
	sendBuffer      = 256
	shutdownTimeout = 10 * time.Second
)

// Frame is the wire form of one event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Options struct {
	// Addr is the listen address used by Serve.
	Addr string
	// Path is where the upgrade handler is mounted.
	Path string
	// AllowedOrigins lists the Origin values accepted during the upgrade.
	// "*" accepts any origin; an empty list only accepts same-origin
	// requests and clients that send no Origin header.
	AllowedOrigins []string
	// ReadLimit caps the size of one inbound frame in bytes.
	ReadLimit int64
	// PingInterval is how often the server pings. A peer that stays silent
	// for 10/9 of it is dropped.
	PingInterval time.Duration
	Decode       jsoncodec.DecodeOptions
	Encode       jsoncodec.EncodeOptions
	Logger       logging.ServiceLogger
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	o.Path = "/" + strings.Trim(o.Path, "/")
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingEvery
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopServiceLogger()
	}
	return o
}

// Server is a transport.Server and an http.Handler.
type Server struct {
	*hub.Namespace

	hub      *hub.Hub
	opts     Options
	api      sonic.API
	logger   logging.ServiceLogger
	upgrader websocket.Upgrader
	router   chi.Router

	mu        sync.Mutex
	http      *http.Server
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func New(opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		hub:    hub.New(opts.Logger),
		opts:   opts,
		api:    jsoncodec.API(opts.Decode, opts.Encode),
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
	s.Namespace = s.hub.Of(transport.DefaultNamespace)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     OriginChecker(opts.AllowedOrigins),
	}

	r := chi.NewRouter()
	if opts.Path == "/" {
		r.Get("/*", s.handleUpgrade)
	} else {
		r.Get(opts.Path, s.handleUpgrade)
		r.Get(opts.Path+"/*", s.handleUpgrade)
	}
	s.router = r
	return s
}

func (s *Server) Of(name string) transport.Namespace { return s.hub.Of(name) }

// Hub exposes the connection bookkeeping.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Path is the mount path of the upgrade handler.
func (s *Server) Path() string { return s.opts.Path }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on Options.Addr until ctx ends or Close is called, then
// shuts the HTTP server down and disconnects every client.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errspkg.ErrServerClosed
	}
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: writeWait,
	}
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket server listening", logging.LogFields{
			"addr": s.opts.Addr,
			"path": s.opts.Path,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	case <-s.done:
	}
	return s.Close()
}

// Close stops accepting upgrades and disconnects every client.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		srv := s.http
		s.mu.Unlock()
		close(s.done)

		s.hub.Close(hub.ReasonServerShutdown)
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
				err = shutdownErr
			}
		}
	})
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, errspkg.ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.logger.Debug("websocket upgrade failed", logging.LogFields{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		return
	}

	ns := transport.NormalizeNamespace(chi.URLParam(r, "*"))
	hs := transport.Handshake{
		Query:   transport.QueryFromValues(r.URL.Query()),
		Headers: r.Header.Clone(),
		Address: r.RemoteAddr,
		URL:     r.URL.RequestURI(),
		Time:    time.Now(),
	}

	p := newPeer(ws, s.api, s.opts.PingInterval, s.logger)
	go p.writePump()
	// The request outlives this handler once the socket is hijacked.
	req := r.Clone(context.WithoutCancel(r.Context()))
	conn := s.hub.Of(ns).Accept(ids.NewConnectionID(), hs, req, p)
	p.readPump(conn, s.opts.ReadLimit)
}

// OriginChecker builds the Upgrader's CheckOrigin from an allow-list.
func OriginChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return SameOriginCheck
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the Host header.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// peer owns one socket. writePump is the only writer; readPump runs on the
// upgrade handler's goroutine.
type peer struct {
	ws       *websocket.Conn
	api      sonic.API
	logger   logging.ServiceLogger
	interval time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newPeer(ws *websocket.Conn, api sonic.API, interval time.Duration, logger logging.ServiceLogger) *peer {
	return &peer{
		ws:       ws,
		api:      api,
		logger:   logger,
		interval: interval,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (p *peer) Send(event string, payload any) error {
	data, err := p.api.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errspkg.ErrConnectionClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return errspkg.ErrConnectionClosed
	default:
		return errspkg.ErrSendBufferFull
	}
}

func (p *peer) Close(reason string) error {
	p.closeOnce.Do(func() {
		p.reason = reason
		close(p.done)
	})
	return nil
}

func (p *peer) pongWait() time.Duration {
	return p.interval * 10 / 9
}

func (p *peer) readPump(conn *hub.Conn, limit int64) {
	reason := hub.ReasonTransportClose
	defer func() {
		conn.Teardown(reason)
		_ = p.ws.Close()
	}()

	p.ws.SetReadLimit(limit)
	_ = p.ws.SetReadDeadline(time.Now().Add(p.pongWait()))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(p.pongWait()))
	})

	for {
		kind, data, err := p.ws.ReadMessage()
		if err != nil {
			reason = closeReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				p.logger.Debug("websocket read failed", logging.LogFields{
					"namespace":     conn.Namespace(),
					"connection_id": conn.ID(),
					"error":         err.Error(),
				})
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := p.api.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			p.logger.Debug("dropping malformed websocket frame", logging.LogFields{
				"namespace":     conn.Namespace(),
				"connection_id": conn.ID(),
			})
			continue
		}
		conn.Deliver(frame.Event, frame.Data)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		_ = p.ws.Close()
	}()

	for {
		select {
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			p.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, p.reason)
			_ = p.write(websocket.CloseMessage, msg)
			return
		}
	}
}

// flush writes frames queued before the close.
func (p *peer) flush() {
	for {
		select {
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *peer) write(kind int, data []byte) error {
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(kind, data)
}

// closeReason maps a read error to a disconnect reason.
func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return hub.ReasonClientDisconnect
		case websocket.CloseMessageTooBig:
			return hub.ReasonTransportError
		}
		return hub.ReasonTransportClose
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return hub.ReasonPingTimeout
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return hub.ReasonTransportError
	}
	return hub.ReasonTransportClose
}

var _ transport.Server = (*Server)(nil)
