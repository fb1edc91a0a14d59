// Package channel provides an in-memory pub/sub backend on watermill's Go
// channels. It is useful for tests and single-process deployments where the
// gateway and the controllers share a process.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/sockflow/pubsub"
)

// BackendName is the name used to register this backend.
const BackendName = "channel"

// OutputChannelBuffer bounds how many undelivered messages a subscriber holds.
var OutputChannelBuffer int64 = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the backend to the default registry.
func Register() {
	pubsub.RegisterWithCapabilities(BackendName, Build, pubsub.ChannelCapabilities)
}

// Build creates a new Go channel backend. Publisher and subscriber are the
// same GoChannel.
func Build(ctx context.Context, cfg pubsub.Config, logger watermill.LoggerAdapter) (pubsub.Backend, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputChannelBuffer}, logger)
	return pubsub.Backend{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Backend is Build without config, for embedding and tests.
func Backend(logger watermill.LoggerAdapter) pubsub.Backend {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	b, _ := Build(context.Background(), nil, logger)
	return b
}

func Capabilities() pubsub.Capabilities {
	return pubsub.ChannelCapabilities
}
