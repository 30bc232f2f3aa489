package broker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/relay/internal/runtime/config"
)

// GoChannelFactory creates the in-memory pub/sub. Tests may replace it.
var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func channelBroker(_ context.Context, _ *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	pub, sub := GoChannelFactory(gochannel.Config{}, logger)
	return Broker{Publisher: pub, Subscriber: sub}, nil
}
