// Package sockflow dispatches events arriving on persistent socket
// connections to actions declared on controller descriptors. A controller
// names a namespace and a set of actions bound to the connect, disconnect or
// message lifecycle of a connection; every action declares the parameters it
// needs and where they come from (the connection, its handshake query, its
// rooms, the event payload and so on).
//
// Service reads the transport (in-process memory, gorilla websocket, or a
// Watermill pub/sub backend bridged through edge gateways) from Config,
// binds the registered controllers and runs each invocation through the
// default middleware chain for panic recovery, correlation IDs, structured
// logging, OpenTelemetry tracing and Prometheus metrics.
//
// Payload parameters are coerced to the declared type hint: numbers, strings
// and booleans are converted permissively, and concrete Go types (including
// protobuf messages) are materialised by the structured decoder. A minimal
// setup fills Config, creates a Service, registers controllers built with
// NewController and calls Start.
//
// # Transports
//
//   - memory: In-process connections for tests and embedding
//   - websocket: JSON frames over gorilla/websocket
//   - channel, nats, kafka, rabbitmq, http, aws: virtual connections carried
//     over a Watermill backend
//
// # Errors
//
// Failed invocations are reported to the ErrorSink of ServiceDependencies
// with the stage that failed (parameter resolution or the action itself) and
// are never retried.
//
// # Invocation Hooks
//
// InvocationHooksMiddleware provides OnStart, OnDone and OnError callbacks for
// custom logging, metrics collection and alerting around action execution.
package sockflow
