package descriptor

import (
	"fmt"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
)

// SourceKind enumerates where a parameter value comes from.
type SourceKind int

const (
	SourceKindConnection SourceKind = iota + 1
	SourceKindTransport
	SourceKindQuery
	SourceKindConnectionID
	SourceKindRequest
	SourceKindRooms
	SourceKindPayload
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindConnection:
		return "connection"
	case SourceKindTransport:
		return "transport"
	case SourceKindQuery:
		return "query"
	case SourceKindConnectionID:
		return "connection_id"
	case SourceKindRequest:
		return "request"
	case SourceKindRooms:
		return "rooms"
	case SourceKindPayload:
		return "payload"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ParamSource is a closed variant: the kind plus, for query parameters, the
// query key. Build it with the Source* constructors.
type ParamSource struct {
	kind  SourceKind
	query string
}

func SourceConnection() ParamSource   { return ParamSource{kind: SourceKindConnection} }
func SourceTransport() ParamSource    { return ParamSource{kind: SourceKindTransport} }
func SourceConnectionID() ParamSource { return ParamSource{kind: SourceKindConnectionID} }
func SourceRequest() ParamSource      { return ParamSource{kind: SourceKindRequest} }
func SourceRooms() ParamSource        { return ParamSource{kind: SourceKindRooms} }
func SourcePayload() ParamSource      { return ParamSource{kind: SourceKindPayload} }

// SourceQuery reads the named handshake query parameter.
func SourceQuery(name string) ParamSource {
	return ParamSource{kind: SourceKindQuery, query: name}
}

func (s ParamSource) Kind() SourceKind { return s.kind }

// QueryName is the query key of a SourceKindQuery source, "" otherwise.
func (s ParamSource) QueryName() string { return s.query }

func (s ParamSource) String() string {
	if s.kind == SourceKindQuery {
		return "query(" + s.query + ")"
	}
	return s.kind.String()
}

func (s ParamSource) validate() error {
	switch s.kind {
	case SourceKindConnection, SourceKindTransport, SourceKindConnectionID,
		SourceKindRequest, SourceKindRooms, SourceKindPayload:
		return nil
	case SourceKindQuery:
		if s.query == "" {
			return errspkg.ErrQueryNameRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", errspkg.ErrUnknownParamSource, s.kind)
	}
}
