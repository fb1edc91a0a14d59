// Package kafka provides a Kafka pub/sub backend.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sockflow/pubsub"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

// DefaultConsumerGroup is used when the config names none.
const DefaultConsumerGroup = "sockflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry.
func Register() {
	pubsub.RegisterWithCapabilities(BackendName, Build, pubsub.KafkaCapabilities)
}

// SubscriberSaramaConfig starts new consumer groups at the newest offset:
// socket events recorded before the process started are stale.
func SubscriberSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

// PublisherSaramaConfig caps produced messages at the advertised maximum.
func PublisherSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.Producer.MaxMessageBytes = int(pubsub.KafkaCapabilities.MaxMessageSize)
	return cfg
}

// Build creates a new Kafka backend.
func Build(ctx context.Context, cfg pubsub.Config, logger watermill.LoggerAdapter) (pubsub.Backend, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: PublisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return pubsub.Backend{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: SubscriberSaramaConfig(),
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
	return pubsub.KafkaCapabilities
}
