// Package nats provides a NATS Core pub/sub backend.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/sockflow/pubsub"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

// ClientName identifies sockflow connections on the NATS server.
var ClientName = "sockflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry.
func Register() {
	pubsub.RegisterWithCapabilities(BackendName, Build, pubsub.NATSCapabilities)
}

// ConnectOptions returns the nats.go options used by both sides of the
// backend. Connection state changes are logged through logger.
func ConnectOptions(logger watermill.LoggerAdapter) []nc.Option {
	return []nc.Option{
		nc.Name(ClientName),
		nc.Timeout(10 * time.Second),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(60),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, watermill.LogFields{"name": ClientName})
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": conn.ConnectedUrl()})
		}),
	}
}

// Build creates a new NATS Core backend. JetStream is disabled: emits and
// events are fire-and-forget.
func Build(ctx context.Context, cfg pubsub.Config, logger watermill.LoggerAdapter) (pubsub.Backend, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = nc.DefaultURL
	}
	marshaler := &wmnats.NATSMarshaler{}
	options := ConnectOptions(logger)
	jetStream := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return pubsub.Backend{}, err
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:            url,
			NatsOptions:    options,
			Unmarshaler:    marshaler,
			JetStream:      jetStream,
			CloseTimeout:   5 * time.Second,
			AckWaitTimeout: 30 * time.Second,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return pubsub.Backend{}, err
	}

	return pubsub.Backend{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() pubsub.Capabilities {
	return pubsub.NATSCapabilities
}
