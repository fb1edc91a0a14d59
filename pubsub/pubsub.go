// Package pubsub defines the message backends the broker transport runs on.
// Each backend (kafka, rabbitmq, nats, aws, ...) lives in its own sub-package
// and registers a Builder with the registry.
package pubsub

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Backend combines the publisher and subscriber pair produced by a builder.
type Backend struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber first so no handler publishes into a closed
// publisher.
func (b Backend) Close() error {
	var errs []error
	if b.Subscriber != nil {
		errs = append(errs, b.Subscriber.Close())
	}
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	return errors.Join(errs...)
}

// Builder creates a backend from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Backend, error)

// Config provides the values backends need without depending on the full
// config package.
type Config interface {
	// GetBackend returns the backend name.
	GetBackend() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by backends that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
