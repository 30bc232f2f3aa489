package broker

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/relay/internal/runtime/config"
)

var (
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	NATSSubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

func natsBroker(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	marshaler := &nats.NATSMarshaler{}
	options := natsOptions(conf)

	publisher, err := NATSPublisherFactory(
		nats.PublisherConfig{
			URL:         conf.NATSURL,
			NatsOptions: options,
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		return Broker{}, err
	}

	subscriber, err := NATSSubscriberFactory(
		nats.SubscriberConfig{
			URL:         conf.NATSURL,
			NatsOptions: options,
			Unmarshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return Broker{}, errors.Join(err, publisher.Close())
	}

	return Broker{Publisher: publisher, Subscriber: subscriber}, nil
}

func natsOptions(conf *config.Config) []natsgo.Option {
	var options []natsgo.Option
	if conf.NATSClientName != "" {
		options = append(options, natsgo.Name(conf.NATSClientName))
	}
	if conf.NATSMaxReconnects != 0 {
		options = append(options, natsgo.MaxReconnects(conf.NATSMaxReconnects))
	}
	return options
}
