// Package http provides an HTTP pub/sub backend: messages are POSTed to
// <publisher url><topic> and received on an embedded HTTP server.
package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sockflow/pubsub"
)

// BackendName is the name used to register this backend.
const BackendName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry.
func Register() {
	pubsub.RegisterWithCapabilities(BackendName, Build, pubsub.HTTPCapabilities)
}

// TopicURL joins the publisher base URL and a topic.
func TopicURL(base, topic string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base + topic
	}
	return base + "/" + topic
}

// Build creates a new HTTP backend. The subscriber's server is started in
// the background; it only routes topics subscribed before it starts.
func Build(ctx context.Context, cfg pubsub.Config, logger watermill.LoggerAdapter) (pubsub.Backend, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return pubsub.Backend{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
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

// StartServer runs the embedded HTTP server of an http backend subscriber in
// the background. Call it after every topic has been subscribed. Other
// subscribers are ignored.
func StartServer(sub message.Subscriber, logger watermill.LoggerAdapter) bool {
	s, ok := sub.(*http.Subscriber)
	if !ok {
		return false
	}
	go func() {
		if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
			logger.Error("Failed to start HTTP subscriber server", err, nil)
		}
	}()
	return true
}

func Capabilities() pubsub.Capabilities {
	return pubsub.HTTPCapabilities
}
