package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/relay/internal/runtime/config"
)

// LocalstackAccountID is used when a custom endpoint is configured without an
// account id.
const LocalstackAccountID = "000000000000"

const awsAccountIDLength = 12

var (
	AWSConfigLoader         = awsconfig.LoadDefaultConfig
	SNSTopicResolverFactory = sns.NewGenerateArnTopicResolver
	SNSPublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SNSSubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

// awsBroker publishes to SNS topics and consumes through one SQS queue per
// topic, named after the topic.
func awsBroker(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	awsCfg, err := loadAWSConfig(ctx, conf)
	if err != nil {
		return Broker{}, fmt.Errorf("aws: load config: %w", err)
	}

	accountID := awsAccountID(conf)
	resolver, err := SNSTopicResolverFactory(accountID, awsCfg.Region)
	if err != nil {
		return Broker{}, fmt.Errorf("aws: topic resolver: %w", err)
	}
	logger.Info("Creating SNS/SQS broker", watermill.LogFields{
		"account_id":      accountID,
		"region":          awsCfg.Region,
		"custom_endpoint": conf.AWSEndpoint != "",
	})

	snsOpts, sqsOpts, err := awsEndpointOptions(conf.AWSEndpoint)
	if err != nil {
		return Broker{}, err
	}

	publisher, err := SNSPublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return Broker{}, err
	}

	subscriber, err := SNSSubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: sqsQueueName,
	}, sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    sqsOpts,
	}, logger)
	if err != nil {
		return Broker{}, errors.Join(err, publisher.Close())
	}
	return Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func loadAWSConfig(ctx context.Context, conf *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if conf.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
	}
	if conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := AWSConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	// Loaders replaced in tests ignore options.
	if conf.AWSRegion != "" {
		awsCfg.Region = conf.AWSRegion
	}
	return awsCfg, nil
}

func awsAccountID(conf *config.Config) string {
	id := strings.Trim(conf.AWSAccountID, "\"' ")
	if conf.AWSEndpoint != "" && len(id) != awsAccountIDLength {
		return LocalstackAccountID
	}
	return id
}

func awsEndpointOptions(endpoint string) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if endpoint == "" {
		return nil, nil, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("aws: parse endpoint: %w", err)
	}
	override := smithyendpoints.Endpoint{URI: *parsed}
	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: override}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: override}),
	}
	return snsOpts, sqsOpts, nil
}

func sqsQueueName(_ context.Context, topic sns.TopicArn) (string, error) {
	name, err := sns.ExtractTopicNameFromTopicArn(topic)
	if err != nil {
		return "", err
	}
	return string(name), nil
}
