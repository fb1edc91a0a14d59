// Package binder attaches controller actions to the connections a transport
// announces.
package binder

import (
	"context"
	"sync"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	"github.com/drblury/sockflow/internal/runtime/logging"
	"github.com/drblury/sockflow/transport"
)

// Dispatcher runs one invocation. *invoker.Invoker satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *invoker.Call) error
}

// Option customises a Binder.
type Option func(*Binder)

func WithLogger(log logging.ServiceLogger) Option {
	return func(b *Binder) {
		if log != nil {
			b.logger = log
		}
	}
}

// WithContext sets the parent context of every invocation. It defaults to
// context.Background.
func WithContext(ctx context.Context) Option {
	return func(b *Binder) {
		if ctx != nil {
			b.ctx = ctx
		}
	}
}

// Binder owns the controller descriptors for the lifetime of the process.
// Invocations of one connection run one after another in arrival order on a
// mailbox goroutine; different connections never wait for each other.
type Binder struct {
	server     transport.Server
	dispatcher Dispatcher
	logger     logging.ServiceLogger
	ctx        context.Context

	mu        sync.Mutex
	idle      *sync.Cond
	active    int
	mailboxes map[string]*mailbox
}

// mailbox is the FIFO of pending invocations of one connection.
type mailbox struct {
	key   string
	refs  int
	queue []*invoker.Call
	busy  bool
}

func New(server transport.Server, dispatcher Dispatcher, opts ...Option) *Binder {
	b := &Binder{
		server:     server,
		dispatcher: dispatcher,
		logger:     logging.NewNopServiceLogger(),
		ctx:        context.Background(),
		mailboxes:  make(map[string]*mailbox),
	}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Bind registers one connection listener on the default namespace for all
// controllers without a namespace, and one listener per namespaced
// controller on its own namespace.
//
// Invocation errors are not returned to the transport; the invoker's error
// sink is the only place they can be observed.
func (b *Binder) Bind(controllers []descriptor.ControllerDescriptor) {
	var rootGroup []descriptor.ControllerDescriptor
	var namespaced []descriptor.ControllerDescriptor
	for _, c := range controllers {
		if c.HasNamespace() {
			namespaced = append(namespaced, c)
		} else {
			rootGroup = append(rootGroup, c)
		}
	}

	if len(rootGroup) > 0 {
		b.server.OnConnection(func(conn transport.Conn) {
			b.attach(conn, rootGroup)
		})
	}
	for _, c := range namespaced {
		group := []descriptor.ControllerDescriptor{c}
		b.server.Of(c.Namespace).OnConnection(func(conn transport.Conn) {
			b.attach(conn, group)
		})
	}

	b.logger.Info("Controllers bound", logging.LogFields{
		"default_namespace": len(rootGroup),
		"namespaced":        len(namespaced),
	})
}

func (b *Binder) attach(conn transport.Conn, group []descriptor.ControllerDescriptor) {
	mb := b.acquire(conn)

	var onDisconnect []*invoker.Call
	for _, controller := range group {
		for _, action := range controller.Actions {
			switch action.Kind {
			case descriptor.OnConnect:
				b.enqueue(mb, newCall(controller, action, invoker.Context{Conn: conn}))
			case descriptor.OnDisconnect:
				onDisconnect = append(onDisconnect, newCall(controller, action, invoker.Context{Conn: conn}))
			case descriptor.OnMessage:
				conn.On(action.Event, func(data any) {
					b.enqueue(mb, newCall(controller, action, invoker.Context{Conn: conn, Data: data}))
				})
			}
		}
	}
	conn.OnDisconnect(func(string) {
		for _, call := range onDisconnect {
			b.enqueue(mb, call)
		}
		b.release(mb)
	})
	b.logger.Debug("connection bound", logging.ConnectionFields(conn.Namespace(), conn.ID()))
}

func newCall(controller descriptor.ControllerDescriptor, action descriptor.ActionDescriptor, ictx invoker.Context) *invoker.Call {
	return &invoker.Call{
		Controller: controller.Name,
		Namespace:  controller.Namespace,
		Action:     action,
		Context:    ictx,
	}
}

// acquire returns the mailbox of conn. Controller groups attached to the same
// connection share it.
func (b *Binder) acquire(conn transport.Conn) *mailbox {
	key := conn.Namespace() + "#" + conn.ID()
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.mailboxes[key]
	if !ok {
		mb = &mailbox{key: key}
		b.mailboxes[key] = mb
	}
	mb.refs++
	return mb
}

func (b *Binder) release(mb *mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb.refs--
	if mb.refs == 0 && b.mailboxes[mb.key] == mb {
		delete(b.mailboxes, mb.key)
	}
}

func (b *Binder) enqueue(mb *mailbox, call *invoker.Call) {
	b.mu.Lock()
	mb.queue = append(mb.queue, call)
	if mb.busy {
		b.mu.Unlock()
		return
	}
	mb.busy = true
	b.active++
	b.mu.Unlock()

	go b.drain(mb)
}

func (b *Binder) drain(mb *mailbox) {
	for {
		b.mu.Lock()
		if len(mb.queue) == 0 {
			mb.busy = false
			b.active--
			if b.active == 0 {
				b.idle.Broadcast()
			}
			b.mu.Unlock()
			return
		}
		call := mb.queue[0]
		mb.queue[0] = nil
		mb.queue = mb.queue[1:]
		b.mu.Unlock()

		// Failures were already reported to the error sink.
		_ = b.dispatcher.Dispatch(b.ctx, call)
	}
}

// Wait blocks until every queued invocation has finished. Events delivered
// while it waits are waited for as well.
func (b *Binder) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.active > 0 {
		b.idle.Wait()
	}
}
