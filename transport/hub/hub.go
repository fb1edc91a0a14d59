// Package hub keeps the connection bookkeeping shared by the transports:
// namespaces, the connections inside them, room membership and the event
// and disconnect handlers registered on each connection.
//
// A transport supplies a Sender per connection and calls Accept, Deliver and
// Teardown as its link comes up, receives events and goes away.
package hub

import (
	"errors"
	"net/http"
	"sort"
	"sync"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/transport"
)

// Disconnect reasons reported to disconnect handlers.
const (
	ReasonServerDisconnect = "server namespace disconnect"
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
	ReasonServerShutdown   = "server shutting down"
)

// Sender writes to the peer of one connection.
type Sender interface {
	Send(event string, payload any) error
	// Close releases the underlying link. It is called at most once.
	Close(reason string) error
}

type Hub struct {
	logger logging.ServiceLogger

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// New returns an empty Hub. A nil logger discards output.
func New(logger logging.ServiceLogger) *Hub {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &Hub{
		logger:     logger,
		namespaces: make(map[string]*Namespace),
	}
}

// Of returns the namespace called name, creating it on first use.
func (h *Hub) Of(name string) *Namespace {
	name = transport.NormalizeNamespace(name)

	h.mu.RLock()
	ns, ok := h.namespaces[name]
	h.mu.RUnlock()
	if ok {
		return ns
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ns, ok = h.namespaces[name]; ok {
		return ns
	}
	ns = &Namespace{
		hub:   h,
		name:  name,
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
	h.namespaces[name] = ns
	return ns
}

// Lookup finds a namespace without creating it.
func (h *Hub) Lookup(name string) (*Namespace, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ns, ok := h.namespaces[transport.NormalizeNamespace(name)]
	return ns, ok
}

// Stats counts namespaces and live connections.
func (h *Hub) Stats() (namespaces, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	namespaces = len(h.namespaces)
	for _, ns := range h.namespaces {
		connections += ns.Len()
	}
	return namespaces, connections
}

// Close tears down every connection with reason.
func (h *Hub) Close(reason string) {
	h.mu.RLock()
	all := make([]*Namespace, 0, len(h.namespaces))
	for _, ns := range h.namespaces {
		all = append(all, ns)
	}
	h.mu.RUnlock()

	for _, ns := range all {
		for _, c := range ns.Connections() {
			c.close(reason)
		}
	}
}

// Namespace implements transport.Namespace.
type Namespace struct {
	hub  *Hub
	name string

	mu       sync.RWMutex
	handlers []transport.ConnectionHandler
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
}

func (n *Namespace) Name() string { return n.name }

// OnConnection registers handler for connections accepted after the call.
func (n *Namespace) OnConnection(handler transport.ConnectionHandler) {
	if handler == nil {
		return
	}
	n.mu.Lock()
	n.handlers = append(n.handlers, handler)
	n.mu.Unlock()
}

// Emit broadcasts to every connection in the namespace.
func (n *Namespace) Emit(event string, payload any) error {
	return broadcast(n.Connections(), event, payload)
}

// To targets the members of room.
func (n *Namespace) To(room string) transport.Emitter {
	return roomEmitter{ns: n, room: room}
}

// Len is the number of live connections.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// Connections returns a snapshot of the live connections.
func (n *Namespace) Connections() []*Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Conn, 0, len(n.conns))
	for _, c := range n.conns {
		out = append(out, c)
	}
	return out
}

// Lookup finds a live connection by id.
func (n *Namespace) Lookup(id string) (*Conn, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.conns[id]
	return c, ok
}

// MemberIDs returns the sorted ids of the connections in room.
func (n *Namespace) MemberIDs(room string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.rooms[room]))
	for id := range n.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Accept registers a new connection, puts it in a room named after its id
// and announces it to the namespace's connection handlers before returning.
func (n *Namespace) Accept(id string, handshake transport.Handshake, req *http.Request, sender Sender) *Conn {
	c := &Conn{
		ns:        n,
		id:        id,
		handshake: handshake,
		req:       req,
		sender:    sender,
		rooms:     make(map[string]struct{}),
		handlers:  make(map[string][]transport.EventHandler),
	}

	n.mu.Lock()
	n.conns[id] = c
	n.joinLocked(c, id)
	handlers := append([]transport.ConnectionHandler(nil), n.handlers...)
	count := len(n.conns)
	n.mu.Unlock()

	n.hub.logger.Debug("connection accepted", logging.LogFields{
		"namespace":     n.name,
		"connection_id": id,
		"connections":   count,
	})

	for _, h := range handlers {
		h(c)
	}
	return c
}

func (n *Namespace) joinLocked(c *Conn, room string) {
	members, ok := n.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		n.rooms[room] = members
	}
	members[c.id] = c
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (n *Namespace) leaveLocked(c *Conn, room string) {
	if members, ok := n.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(n.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (n *Namespace) remove(c *Conn) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, room := range c.Rooms() {
		n.leaveLocked(c, room)
	}
	delete(n.conns, c.id)
	return len(n.conns)
}

type roomEmitter struct {
	ns   *Namespace
	room string
}

func (r roomEmitter) Emit(event string, payload any) error {
	r.ns.mu.RLock()
	members := make([]*Conn, 0, len(r.ns.rooms[r.room]))
	for _, c := range r.ns.rooms[r.room] {
		members = append(members, c)
	}
	r.ns.mu.RUnlock()
	return broadcast(members, event, payload)
}

func broadcast(conns []*Conn, event string, payload any) error {
	var errs []error
	for _, c := range conns {
		if err := c.Emit(event, payload); err != nil && !errors.Is(err, errspkg.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conn implements transport.Conn on top of a Sender.
type Conn struct {
	ns        *Namespace
	id        string
	handshake transport.Handshake
	req       *http.Request
	sender    Sender

	mu                 sync.RWMutex
	rooms              map[string]struct{}
	handlers           map[string][]transport.EventHandler
	disconnectHandlers []transport.DisconnectHandler
	closed             bool
	reason             string

	closeOnce sync.Once
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) Namespace() string { return c.ns.name }

// Handshake returns a copy; callers cannot change the stored query.
func (c *Conn) Handshake() transport.Handshake {
	hs := c.handshake
	hs.Query = c.handshake.Query.Clone()
	if c.handshake.Headers != nil {
		hs.Headers = c.handshake.Headers.Clone()
	}
	return hs
}

func (c *Conn) Request() *http.Request { return c.req }

// Rooms returns the sorted room names.
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Conn) Join(room string) error {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	if c.Closed() {
		return errspkg.ErrConnectionClosed
	}
	c.ns.joinLocked(c, room)
	return nil
}

func (c *Conn) Leave(room string) error {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	if c.Closed() {
		return errspkg.ErrConnectionClosed
	}
	c.ns.leaveLocked(c, room)
	return nil
}

// On registers handler for event. Handlers for one event run in
// registration order.
func (c *Conn) On(event string, handler transport.EventHandler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// OnDisconnect registers handler. Registering on a closed connection calls
// nothing: the disconnect already happened.
func (c *Conn) OnDisconnect(handler transport.DisconnectHandler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.disconnectHandlers = append(c.disconnectHandlers, handler)
}

func (c *Conn) Emit(event string, payload any) error {
	if c.Closed() {
		return errspkg.ErrConnectionClosed
	}
	return c.sender.Send(event, payload)
}

// Disconnect closes the connection from the server side.
func (c *Conn) Disconnect() error {
	if !c.close(ReasonServerDisconnect) {
		return errspkg.ErrConnectionClosed
	}
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Reason is the disconnect reason, "" while the connection is live.
func (c *Conn) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// Deliver hands an inbound event to the handlers registered for it and
// reports how many ran. Events on closed connections are dropped.
func (c *Conn) Deliver(event string, payload any) int {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return 0
	}
	handlers := append([]transport.EventHandler(nil), c.handlers[event]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return len(handlers)
}

// Teardown is called by the transport when the peer goes away. Disconnect
// handlers run once, whichever side closes first.
func (c *Conn) Teardown(reason string) {
	c.close(reason)
}

func (c *Conn) close(reason string) bool {
	closedNow := false
	c.closeOnce.Do(func() {
		closedNow = true

		c.mu.Lock()
		c.closed = true
		c.reason = reason
		handlers := c.disconnectHandlers
		c.disconnectHandlers = nil
		c.handlers = make(map[string][]transport.EventHandler)
		c.mu.Unlock()

		remaining := c.ns.remove(c)
		if err := c.sender.Close(reason); err != nil {
			c.ns.hub.logger.Debug("closing connection link failed", logging.LogFields{
				"namespace":     c.ns.name,
				"connection_id": c.id,
				"error":         err.Error(),
			})
		}
		c.ns.hub.logger.Debug("connection closed", logging.LogFields{
			"namespace":     c.ns.name,
			"connection_id": c.id,
			"reason":        reason,
			"connections":   remaining,
		})

		for _, h := range handlers {
			h(reason)
		}
	})
	return closedNow
}

var _ transport.Conn = (*Conn)(nil)
var _ transport.Namespace = (*Namespace)(nil)
