package broker

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/config"
)

var (
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

func kafkaBroker(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	publisher, err := KafkaPublisherFactory(kafkaPublisherConfig(conf), logger)
	if err != nil {
		return Broker{}, err
	}
	subscriber, err := KafkaSubscriberFactory(kafkaSubscriberConfig(conf), logger)
	if err != nil {
		return Broker{}, errors.Join(err, publisher.Close())
	}
	return Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func kafkaPublisherConfig(conf *config.Config) kafka.PublisherConfig {
	cfg := kafka.PublisherConfig{
		Brokers:   conf.KafkaBrokers,
		Marshaler: kafka.DefaultMarshaler{},
	}
	if conf.KafkaClientID != "" {
		sarama := kafka.DefaultSaramaSyncPublisherConfig()
		sarama.ClientID = conf.KafkaClientID
		cfg.OverwriteSaramaConfig = sarama
	}
	return cfg
}

func kafkaSubscriberConfig(conf *config.Config) kafka.SubscriberConfig {
	cfg := kafka.SubscriberConfig{
		Brokers:       conf.KafkaBrokers,
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: conf.KafkaConsumerGroup,
	}
	if conf.KafkaClientID != "" {
		sarama := kafka.DefaultSaramaSubscriberConfig()
		sarama.ClientID = conf.KafkaClientID
		cfg.OverwriteSaramaConfig = sarama
	}
	return cfg
}
