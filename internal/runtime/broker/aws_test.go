package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/config"
)

type awsCapture struct {
	loaderOpts int
	accountID  string
	region     string
	pubCfg     sns.PublisherConfig
	subCfg     sns.SubscriberConfig
	sqsCfg     sqs.SubscriberConfig
	publisher  *testPublisher
}

func stubAWS(t *testing.T, subErr error) *awsCapture {
	t.Helper()
	origLoader, origResolver := AWSConfigLoader, SNSTopicResolverFactory
	origPub, origSub := SNSPublisherFactory, SNSSubscriberFactory
	t.Cleanup(func() {
		AWSConfigLoader, SNSTopicResolverFactory = origLoader, origResolver
		SNSPublisherFactory, SNSSubscriberFactory = origPub, origSub
	})

	c := &awsCapture{publisher: &testPublisher{}}
	AWSConfigLoader = func(_ context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		c.loaderOpts = len(opts)
		return aws.Config{Region: "us-east-1"}, nil
	}
	SNSTopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		c.accountID, c.region = accountID, region
		return &sns.GenerateArnTopicResolver{}, nil
	}
	SNSPublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		c.pubCfg = cfg
		return c.publisher, nil
	}
	SNSSubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		c.subCfg, c.sqsCfg = cfg, sqsCfg
		if subErr != nil {
			return nil, subErr
		}
		return &testSubscriber{}, nil
	}
	return c
}

func TestAWSBrokerUsesConfiguredRegionAndAccount(t *testing.T) {
	c := stubAWS(t, nil)

	conf := &config.Config{
		PubSubSystem:       AWS,
		AWSRegion:          "eu-central-1",
		AWSAccountID:       "'123456789012'",
		AWSAccessKeyID:     "AKIDEXAMPLE",
		AWSSecretAccessKey: "secret",
	}
	b, err := DefaultFactory().Build(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, c.publisher, b.Publisher)

	assert.Equal(t, 2, c.loaderOpts)
	assert.Equal(t, "123456789012", c.accountID)
	assert.Equal(t, "eu-central-1", c.region)
	assert.Equal(t, "eu-central-1", c.pubCfg.AWSConfig.Region)
	assert.Empty(t, c.pubCfg.OptFns)
	assert.Empty(t, c.sqsCfg.OptFns)
	assert.NotNil(t, c.subCfg.GenerateSqsQueueName)
}

func TestAWSBrokerCustomEndpoint(t *testing.T) {
	c := stubAWS(t, nil)

	conf := &config.Config{PubSubSystem: AWS, AWSEndpoint: "http://localhost:4566"}
	_, err := DefaultFactory().Build(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, 0, c.loaderOpts)
	assert.Equal(t, LocalstackAccountID, c.accountID)
	assert.Equal(t, "us-east-1", c.region)
	assert.Len(t, c.pubCfg.OptFns, 1)
	assert.Len(t, c.subCfg.OptFns, 1)
	assert.Len(t, c.sqsCfg.OptFns, 1)
}

func TestAWSSubscriberErrorClosesPublisher(t *testing.T) {
	c := stubAWS(t, errors.New("sqs unavailable"))

	_, err := awsBroker(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
	require.ErrorContains(t, err, "sqs unavailable")
	assert.Equal(t, 1, c.publisher.closed)
}

func TestAWSConfigLoaderError(t *testing.T) {
	stubAWS(t, nil)
	AWSConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	_, err := awsBroker(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.ErrorContains(t, err, "aws: load config: no credentials")
}

func TestAWSEndpointOptionsRejectsBadURL(t *testing.T) {
	_, _, err := awsEndpointOptions("://bad")
	require.ErrorContains(t, err, "aws: parse endpoint")
}

func TestSQSQueueNameFollowsTopic(t *testing.T) {
	name, err := sqsQueueName(context.Background(), sns.TopicArn("arn:aws:sns:us-east-1:000000000000:orders"))
	require.NoError(t, err)
	assert.Equal(t, "orders", name)
}
