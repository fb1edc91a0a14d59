package sockflow

import (
	runtimepkg "github.com/drblury/sockflow/internal/runtime"
	configpkg "github.com/drblury/sockflow/internal/runtime/config"
	"github.com/drblury/sockflow/internal/runtime/decoder"
	"github.com/drblury/sockflow/internal/runtime/descriptor"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	idspkg "github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	jsoncodec "github.com/drblury/sockflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sockflow/internal/runtime/logging"
	transportpkg "github.com/drblury/sockflow/internal/runtime/transport"
	"github.com/drblury/sockflow/pubsub"
	"github.com/drblury/sockflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	TransportFactory    = transportpkg.Factory
	Validator           = decoder.Validator
	ValidatorFunc       = decoder.ValidatorFunc

	ControllerDescriptor = descriptor.ControllerDescriptor
	ControllerBuilder    = descriptor.ControllerBuilder
	ActionDescriptor     = descriptor.ActionDescriptor
	ActionKind           = descriptor.ActionKind
	ParamDescriptor      = descriptor.ParamDescriptor
	ParamOption          = descriptor.ParamOption
	ParamSource          = descriptor.ParamSource
	TypeHint             = descriptor.TypeHint
	InvokeFunc           = descriptor.InvokeFunc
	TransformFunc        = descriptor.TransformFunc

	Call         = invoker.Call
	Handler      = invoker.Handler
	Middleware   = invoker.Middleware
	Failure      = invoker.Failure
	FailureStage = invoker.Stage
	ErrorSink    = invoker.ErrorSink

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	PanicError             = runtimepkg.PanicError

	Emitter = runtimepkg.Emitter

	Server    = transport.Server
	Namespace = transport.Namespace
	Conn      = transport.Conn
	Handshake = transport.Handshake
	Query     = transport.Query

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	PayloadParseError   = errspkg.PayloadParseError
	InvalidPayloadError = errspkg.InvalidPayloadError
	ResolutionError     = errspkg.ResolutionError
	ActionError         = errspkg.ActionError

	ActionInfo  = runtimepkg.ActionInfo
	ActionStats = runtimepkg.ActionStats

	// Invocation lifecycle hooks
	InvocationContext = runtimepkg.InvocationContext
	InvocationHooks   = runtimepkg.InvocationHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Pub/sub backends for the broker transport
	PubSubBackend      = pubsub.Backend
	PubSubBuilder      = pubsub.Builder
	PubSubRegistry     = pubsub.Registry
	PubSubCapabilities = pubsub.Capabilities
)

const (
	OnConnect    = descriptor.OnConnect
	OnDisconnect = descriptor.OnDisconnect
	OnMessage    = descriptor.OnMessage

	StageResolution = invoker.StageResolution
	StageAction     = invoker.StageAction

	DefaultNamespace = transport.DefaultNamespace
)

var (
	NewService        = runtimepkg.NewService
	TryNewService     = runtimepkg.TryNewService
	DefaultConfig     = configpkg.Default
	LoadConfigFromEnv = configpkg.LoadFromEnv
	ValidateConfig    = configpkg.ValidateConfig

	RegisterController     = runtimepkg.RegisterController
	MustRegisterController = runtimepkg.MustRegisterController

	NewController     = descriptor.NewController
	Func              = descriptor.Func
	MustFunc          = descriptor.MustFunc
	ConnectionParam   = descriptor.ConnectionParam
	TransportParam    = descriptor.TransportParam
	QueryParam        = descriptor.QueryParam
	ConnectionIDParam = descriptor.ConnectionIDParam
	RequestParam      = descriptor.RequestParam
	RoomsParam        = descriptor.RoomsParam
	PayloadParam      = descriptor.PayloadParam
	WithType          = descriptor.WithType
	WithTransform     = descriptor.WithTransform
	WithDecodeOptions = descriptor.WithDecodeOptions
	Primitive         = descriptor.Primitive
	Untyped           = descriptor.Untyped

	LogErrorSink = invoker.LogErrorSink
	ChainHandler = invoker.Chain

	DefaultMiddlewares        = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware   = runtimepkg.CorrelationIDMiddleware
	LogActionsMiddleware      = runtimepkg.LogActionsMiddleware
	TracerMiddleware          = runtimepkg.TracerMiddleware
	MetricsMiddleware         = runtimepkg.MetricsMiddleware
	RecovererMiddleware       = runtimepkg.RecovererMiddleware
	WithCorrelationID         = runtimepkg.WithCorrelationID
	CorrelationIDFromContext  = runtimepkg.CorrelationIDFromContext
	InvocationHooksMiddleware = runtimepkg.InvocationHooksMiddleware
	LoggingHooks              = runtimepkg.LoggingHooks
	MetricsHooks              = runtimepkg.MetricsHooks
	AlertingHooks             = runtimepkg.AlertingHooks

	ProtoPayload = runtimepkg.ProtoPayload

	NormalizeNamespace = transport.NormalizeNamespace

	DefaultPubSubRegistry = pubsub.DefaultRegistry
	RegisterPubSub        = pubsub.Register
	GetPubSubCapabilities = pubsub.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired        = errspkg.ErrServiceRequired
	ErrTransportRequired      = errspkg.ErrTransportRequired
	ErrControllerNameRequired = errspkg.ErrControllerNameRequired
	ErrControllerExists       = errspkg.ErrControllerExists
	ErrActionKindInvalid      = errspkg.ErrActionKindInvalid
	ErrEventNameRequired      = errspkg.ErrEventNameRequired
	ErrEventNameForbidden     = errspkg.ErrEventNameForbidden
	ErrInvokeRequired         = errspkg.ErrInvokeRequired
	ErrDuplicateParamIndex    = errspkg.ErrDuplicateParamIndex
	ErrDuplicateActionName    = errspkg.ErrDuplicateActionName
	ErrConnectionRequired     = errspkg.ErrConnectionRequired
	ErrUnknownParamSource     = errspkg.ErrUnknownParamSource
	ErrConnectionClosed       = errspkg.ErrConnectionClosed
	ErrServerClosed           = errspkg.ErrServerClosed
	ErrUnknownTransport       = errspkg.ErrUnknownTransport

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	CreateULID = idspkg.CreateULID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryParse      = runtimepkg.ErrorCategoryParse
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryResolution = runtimepkg.ErrorCategoryResolution
	ErrorCategoryAction     = runtimepkg.ErrorCategoryAction
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// TypeOf returns the hint that materialises payloads into T.
func TypeOf[T any]() TypeHint {
	return descriptor.TypeOf[T]()
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
