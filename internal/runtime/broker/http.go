package broker

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/config"
)

var (
	HTTPPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(cfg, logger)
	}
	HTTPSubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return http.NewSubscriber(addr, cfg, logger)
	}
)

// httpServer is implemented by the watermill HTTP subscriber.
type httpServer interface {
	StartHTTPServer() error
}

func httpBroker(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	publisher, err := HTTPPublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(conf.HTTPPublisherURL+topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return Broker{}, err
	}

	subscriber, err := HTTPSubscriberFactory(
		conf.HTTPServerAddress,
		http.SubscriberConfig{UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc},
		logger,
	)
	if err != nil {
		return Broker{}, errors.Join(err, publisher.Close())
	}

	// Subscribers without a server, such as test fakes, are returned as is.
	if srv, ok := subscriber.(httpServer); ok {
		go func() {
			if err := srv.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}()
	}

	return Broker{Publisher: publisher, Subscriber: subscriber}, nil
}
