package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired        = sterrors.New("sockflow: socket service is required")
	ErrTransportRequired      = sterrors.New("sockflow: transport server is required")
	ErrControllerNameRequired = sterrors.New("sockflow: controller name is required")
	ErrControllerExists       = sterrors.New("sockflow: controller is already registered")
	ErrActionKindInvalid      = sterrors.New("sockflow: action kind must be connect, disconnect or message")
	ErrEventNameRequired      = sterrors.New("sockflow: message action requires an event name")
	ErrEventNameForbidden     = sterrors.New("sockflow: only message actions carry an event name")
	ErrInvokeRequired         = sterrors.New("sockflow: action invoke function is required")
	ErrDuplicateParamIndex    = sterrors.New("sockflow: parameter index declared twice")
	ErrDuplicateActionName    = sterrors.New("sockflow: action name declared twice in one controller")
	ErrNegativeParamIndex     = sterrors.New("sockflow: parameter index cannot be negative")
	ErrQueryNameRequired      = sterrors.New("sockflow: query parameter requires a name")
	ErrUnknownParamSource     = sterrors.New("sockflow: unknown parameter source")
	ErrConnectionRequired     = sterrors.New("sockflow: parameter source requires a connection")
	ErrNotAFunc               = sterrors.New("sockflow: action target must be a function")
	ErrArgumentCount          = sterrors.New("sockflow: argument count does not match action signature")
	ErrArgumentType           = sterrors.New("sockflow: argument cannot be converted to parameter type")
	ErrConnectionClosed       = sterrors.New("sockflow: connection is closed")
	ErrServerClosed           = sterrors.New("sockflow: transport server is closed")
	ErrBackendRequired        = sterrors.New("sockflow: pubsub backend requires a publisher and a subscriber")
	ErrPayloadTooLarge        = sterrors.New("sockflow: payload exceeds the backend message size limit")
	ErrUnknownTransport       = sterrors.New("sockflow: unknown transport")
	ErrSendBufferFull         = sterrors.New("sockflow: connection send buffer is full")
)

// PayloadParseError reports a textual payload that could not be parsed or
// materialised into the declared parameter type. Raw carries the offending
// value exactly as it arrived.
type PayloadParseError struct {
	Raw any
	Err error
}

func (e *PayloadParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sockflow: payload is not parseable: %v", e.Raw)
	}
	return fmt.Sprintf("sockflow: payload is not parseable: %v: %v", e.Raw, e.Err)
}

func (e *PayloadParseError) Unwrap() error { return e.Err }

// InvalidPayloadError wraps a validator rejection of a materialised payload.
type InvalidPayloadError struct {
	Err error
}

func (e *InvalidPayloadError) Error() string {
	return "sockflow: invalid payload: " + e.Err.Error()
}

func (e *InvalidPayloadError) Unwrap() error { return e.Err }

// ResolutionError marks a failure while computing one argument of an action.
type ResolutionError struct {
	Action string
	Index  int
	Source string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("sockflow: action %q: resolving %s parameter %d: %v", e.Action, e.Source, e.Index, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ActionError wraps an error returned (or a panic raised) by the action itself.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("sockflow: action %q failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
