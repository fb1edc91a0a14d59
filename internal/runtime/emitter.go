package runtime

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
	"github.com/drblury/sockflow/transport"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Emitter sends events to the connections of a namespace outside of an
// action, e.g. from an HTTP handler or a background job.
type Emitter interface {
	Emit(namespace, event string, payload any) error
	EmitTo(namespace, room, event string, payload any) error
}

// Emit broadcasts event to every connection of namespace. An empty namespace
// is the default one.
func (s *Service) Emit(namespace, event string, payload any) error {
	ns, err := s.namespace(namespace)
	if err != nil {
		return err
	}
	return ns.Emit(event, payload)
}

// EmitTo sends event to the connections of namespace that joined room.
func (s *Service) EmitTo(namespace, room, event string, payload any) error {
	ns, err := s.namespace(namespace)
	if err != nil {
		return err
	}
	return ns.To(room).Emit(event, payload)
}

// EmitProto broadcasts a protobuf message as its protojson object form.
func (s *Service) EmitProto(namespace, event string, msg proto.Message) error {
	payload, err := ProtoPayload(msg)
	if err != nil {
		return err
	}
	return s.Emit(namespace, event, payload)
}

// ProtoPayload converts msg into the generic JSON value emitted on the wire.
func ProtoPayload(msg proto.Message) (map[string]any, error) {
	if msg == nil {
		return nil, errors.New("proto message is required")
	}
	raw, err := protoJSONMarshalOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proto payload: %w", err)
	}
	var payload map[string]any
	if err := jsoncodec.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode proto payload: %w", err)
	}
	return payload, nil
}

func (s *Service) namespace(name string) (transport.Namespace, error) {
	if s == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if s.server == nil {
		return nil, errspkg.ErrTransportRequired
	}
	name = transport.NormalizeNamespace(name)
	if name == transport.DefaultNamespace {
		return s.server, nil
	}
	return s.server.Of(name), nil
}
