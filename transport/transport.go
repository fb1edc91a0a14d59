// Package transport defines the capability sockflow needs from a socket
// transport: connection announcements per namespace, per-connection event
// subscription, disconnect notification and read access to the connection's
// identity, handshake, request and rooms.
//
// Implementations live in sub-packages: memory (in-process), websocket
// (gorilla/websocket) and broker (virtual connections bridged over a pub/sub
// backend). They share their bookkeeping through the hub package.
package transport

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultNamespace is the namespace used when none is requested.
const DefaultNamespace = "/"

// EventHandler receives the single payload value of an event. A nil payload
// means the event carried none.
type EventHandler func(payload any)

// DisconnectHandler is notified once when a connection goes away.
type DisconnectHandler func(reason string)

// ConnectionHandler is notified once per accepted connection, before any of
// the connection's events are delivered.
type ConnectionHandler func(conn Conn)

// Emitter sends an event to one or many connections.
type Emitter interface {
	Emit(event string, payload any) error
}

// Namespace is a named partition of connections on one server.
type Namespace interface {
	Emitter
	Name() string
	OnConnection(handler ConnectionHandler)
	To(room string) Emitter
}

// Server is the process-wide transport root. It embeds the default namespace.
type Server interface {
	Namespace
	Of(name string) Namespace
	// Serve blocks until ctx is done or the transport fails.
	Serve(ctx context.Context) error
	Close() error
}

// Conn is one live session. It is owned by the transport; callers only observe
// it and register handlers on it.
type Conn interface {
	Emitter
	ID() string
	Namespace() string
	Handshake() Handshake
	// Request returns the HTTP request that opened the connection, or nil when
	// the transport has none.
	Request() *http.Request
	Rooms() []string
	Join(room string) error
	Leave(room string) error
	On(event string, handler EventHandler)
	OnDisconnect(handler DisconnectHandler)
	Disconnect() error
}

// Handshake describes how a connection was opened.
type Handshake struct {
	Query   Query
	Headers http.Header
	Address string
	URL     string
	Time    time.Time
}

// NormalizeNamespace maps "" to the default namespace and adds a missing
// leading slash.
func NormalizeNamespace(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == DefaultNamespace {
		return DefaultNamespace
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}
