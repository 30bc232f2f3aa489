package broker

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/config"
)

// QueueSuffix is appended to topic names to build durable queue names.
const QueueSuffix = "relay"

var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	AmqpSubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

func rabbitBroker(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(
		conf.RabbitMQURL,
		amqp.GenerateQueueNameTopicNameWithSuffix(QueueSuffix),
	)
	conn, err := AmqpConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   conf.RabbitMQURL,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return Broker{}, err
	}

	publisher, err := AmqpPublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return Broker{}, errors.Join(err, closeConn(conn))
	}
	subscriber, err := AmqpSubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return Broker{}, errors.Join(err, publisher.Close(), closeConn(conn))
	}
	return Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func closeConn(conn *amqp.ConnectionWrapper) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
