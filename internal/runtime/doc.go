/*
Package runtime hosts the socket service: it owns the registered controllers,
the transport and the middleware chain every action invocation runs through.

# Architecture Overview

A Service binds controller descriptors to a transport.Server. Events arriving
on a connection are turned into invoker.Call values and dispatched through the
invocation chain, which resolves the action parameters and calls the action.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Transport server (memory, websocket or a pub/sub broker)
  - Structured decoder and parameter resolver
  - Action invoker and connection binder
  - Middleware chain
  - HTTP servers for metrics and the stats API

## Controller Registration (registration.go)

RegisterController validates a descriptor, stores an independent copy and
allocates stats for each of its actions. Controllers may be bound selectively
through ServiceDependencies.BindControllers.

## Middleware (middleware.go, hooks.go)

Action middleware wraps invoker.Handler:
  - Recoverer: Panic recovery
  - CorrelationID: ULID per invocation
  - LogActions: Debug logging of invocations
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus counters and histograms
  - InvocationHooks: OnStart, OnDone and OnError callbacks

## Stats & Monitoring (models.go, resources.go, statsapi.go)

Per-action metrics are collected by the outermost middleware:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error categorization
  - Resource usage sampling

GET /api/actions returns them when the stats API is enabled.

## Emitting (emitter.go)

Emit, EmitTo and EmitProto send events to a namespace or room from outside an
action.

# Sub-packages

  - binder/: Connection Binder
  - coerce/: Format Coercer
  - config/: Service configuration with validation
  - decoder/: Structured Decoder
  - descriptor/: Controller, action and param descriptors
  - errors/: Sentinel errors and error types
  - ids/: ULID generation
  - invoker/: Action Invoker
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Broker envelope metadata
  - resolver/: Parameter Resolver
  - transport/: Transport factory

# Usage Example

	conf := sockflow.DefaultConfig()
	conf.Transport = "websocket"
	conf.WebSocketAddr = ":8080"

	svc := sockflow.NewService(conf, logger, ctx, sockflow.ServiceDependencies{})

	chat := sockflow.NewController("chat").
		Namespace("/chat").
		Handle(sockflow.OnMessage, "say", "say", func(conn sockflow.Conn, msg ChatMessage) error {
			return conn.Emit("said", msg)
		}, sockflow.ConnectionParam(0), sockflow.PayloadParam(1, sockflow.WithType(sockflow.TypeOf[ChatMessage]()))).
		MustBuild()
	sockflow.MustRegisterController(svc, chat)

	svc.Start(ctx)
*/
package runtime
