package broker

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"

	"github.com/drblury/sockflow/internal/runtime/ids"
	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
	"github.com/drblury/sockflow/internal/runtime/metadata"
)

// Gateway is the edge side of the broker protocol. Gateways use it to
// forward client lifecycle and events; tests use it to drive a Server.
type Gateway struct {
	publisher message.Publisher
	topics    Topics
	api       sonic.API
}

func NewGateway(publisher message.Publisher, prefix string, encode jsoncodec.EncodeOptions) *Gateway {
	return &Gateway{
		publisher: publisher,
		topics:    TopicsFor(prefix),
		api:       jsoncodec.API(jsoncodec.DecodeOptions{}, encode),
	}
}

// Connect announces a client. env.ConnectionID defaults to a new id, which
// is returned.
func (g *Gateway) Connect(env metadata.Envelope) (string, error) {
	if env.ConnectionID == "" {
		env.ConnectionID = ids.NewConnectionID()
	}
	return env.ConnectionID, g.publish(g.topics.Connect, env, nil)
}

// Send forwards one client event.
func (g *Gateway) Send(connectionID, namespace, event string, payload any) error {
	var body []byte
	if payload != nil {
		data, err := g.api.Marshal(payload)
		if err != nil {
			return err
		}
		body = data
	}
	return g.publish(g.topics.Event, metadata.Envelope{
		ConnectionID: connectionID,
		Namespace:    namespace,
		Event:        event,
	}, body)
}

// Disconnect reports that a client went away.
func (g *Gateway) Disconnect(connectionID, namespace, reason string) error {
	return g.publish(g.topics.Disconnect, metadata.Envelope{
		ConnectionID: connectionID,
		Namespace:    namespace,
		Reason:       reason,
	}, nil)
}

func (g *Gateway) publish(topic string, env metadata.Envelope, body []byte) error {
	msg := message.NewMessage(ids.CreateULID(), body)
	msg.Metadata = metadata.ToWatermill(env.Metadata())
	return g.publisher.Publish(topic, msg)
}

// Outbound is a decoded message from the emit topic.
type Outbound struct {
	metadata.Envelope
	Payload []byte
}

// Kick reports a server-side disconnect rather than an event.
func (o Outbound) Kick() bool { return o.Event == "" && o.Reason != "" }

func DecodeOutbound(msg *message.Message) Outbound {
	return Outbound{
		Envelope: metadata.EnvelopeFrom(metadata.FromWatermill(msg.Metadata)),
		Payload:  append([]byte(nil), msg.Payload...),
	}
}
