package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sockflow/pubsub"
	"github.com/drblury/sockflow/pubsub/pubsubtest"
)

func TestRegister(t *testing.T) {
	original := pubsub.DefaultRegistry
	defer func() { pubsub.DefaultRegistry = original }()
	pubsub.DefaultRegistry = pubsub.NewRegistry()
	Register()

	caps := pubsub.GetCapabilities(BackendName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, int64(262144), caps.MaxMessageSize)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, pubsub.AWSCapabilities, Capabilities())
}

func stubFactories(t *testing.T) {
	t.Helper()
	loader, resolver, pub, sub := DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory = loader, resolver, pub, sub
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &pubsubtest.Publisher{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return &pubsubtest.Subscriber{}, nil
	}
}

func TestBuild(t *testing.T) {
	t.Run("creates backend with mocked factories", func(t *testing.T) {
		stubFactories(t)

		mockPub := &pubsubtest.Publisher{}
		mockSub := &pubsubtest.Subscriber{}
		var pubCfg sns.PublisherConfig
		var subCfg sns.SubscriberConfig
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = cfg
			return mockPub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			subCfg = cfg
			return mockSub, nil
		}

		b, err := Build(context.Background(), &pubsubtest.Config{
			AWSRegion:    "us-east-1",
			AWSAccountID: "123456789012",
		}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, b.Publisher)
		assert.Equal(t, mockSub, b.Subscriber)
		assert.Empty(t, pubCfg.OptFns)
		assert.Empty(t, subCfg.OptFns)
	})

	t.Run("routes both sides to a custom endpoint", func(t *testing.T) {
		stubFactories(t)

		var pubCfg sns.PublisherConfig
		var subCfg sns.SubscriberConfig
		var sqsCfg sqs.SubscriberConfig
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = cfg
			return &pubsubtest.Publisher{}, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, q sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			subCfg, sqsCfg = cfg, q
			return &pubsubtest.Subscriber{}, nil
		}

		_, err := Build(context.Background(), &pubsubtest.Config{
			AWSRegion:   "us-east-1",
			AWSEndpoint: "http://localhost:4566",
		}, watermill.NopLogger{})

		require.NoError(t, err)
		require.NotNil(t, pubCfg.AWSConfig.BaseEndpoint)
		assert.Equal(t, "http://localhost:4566", *pubCfg.AWSConfig.BaseEndpoint)
		assert.Len(t, pubCfg.OptFns, 1)
		assert.Len(t, subCfg.OptFns, 1)
		assert.Len(t, sqsCfg.OptFns, 1)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &pubsubtest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config error")
	})

	t.Run("returns error for an unparsable endpoint", func(t *testing.T) {
		stubFactories(t)

		_, err := Build(context.Background(), &pubsubtest.Config{
			AWSRegion:   "us-east-1",
			AWSEndpoint: "http://[::1",
		}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse AWS endpoint")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &pubsubtest.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("closes the publisher when subscriber factory fails", func(t *testing.T) {
		stubFactories(t)
		mockPub := &pubsubtest.Publisher{}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &pubsubtest.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
		assert.True(t, mockPub.Closed())
	})
}

func TestTopicResolverSanitizesNames(t *testing.T) {
	resolver, err := createTopicResolver("123456789012", "eu-west-1", watermill.NopLogger{})
	require.NoError(t, err)

	arn, err := resolver.ResolveTopic(context.Background(), "sockflow.emit")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(arn), ":sockflow-emit"), string(arn))
	assert.Contains(t, string(arn), "eu-west-1")
}

func TestSanitizeTopic(t *testing.T) {
	assert.Equal(t, "sockflow-connect", SanitizeTopic("sockflow.connect"))
	assert.Equal(t, "a_b-c", SanitizeTopic("a_b-c"))
	assert.Equal(t, "chat-room-1", SanitizeTopic("chat/room:1"))
}

func TestQueueName(t *testing.T) {
	resolver, err := sns.NewGenerateArnTopicResolver("123456789012", "eu-west-1")
	require.NoError(t, err)
	arn, err := resolver.ResolveTopic(context.Background(), "sockflow-event")
	require.NoError(t, err)

	name, err := QueueName(context.Background(), arn)
	require.NoError(t, err)
	assert.Equal(t, "sockflow-event-"+QueueSuffix, name)
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &pubsubtest.Config{AWSAccountID: "123456789012", AWSRegion: "us-west-2"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region when config region empty", func(t *testing.T) {
		cfg := &pubsubtest.Config{AWSAccountID: "123456789012"}
		_, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack default when endpoint set and account empty", func(t *testing.T) {
		cfg := &pubsubtest.Config{AWSEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("replaces a malformed account id against localstack", func(t *testing.T) {
		cfg := &pubsubtest.Config{AWSEndpoint: "http://localhost:4566", AWSAccountID: "'123'"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("returns empty values for nil config", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "", accountID)
		assert.Equal(t, "us-east-1", region)
	})
}

func TestAwsEndpointURL(t *testing.T) {
	url, err := awsEndpointURL(&pubsubtest.Config{})
	assert.NoError(t, err)
	assert.Nil(t, url)

	url, err = awsEndpointURL(&pubsubtest.Config{AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", url.Host)
}
