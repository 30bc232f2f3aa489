package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/dispatch"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/eventing"
	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/metadata"
	"github.com/drblury/relay/internal/runtime/middleware"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/services"
)

// Name is the transport name used on both sides of the bus.
const Name = "watermill"

// PublisherTransport sends event notifications of type E to one topic.
type PublisherTransport[E any] struct {
	publisher message.Publisher
	topic     *topicInjector[E]
	codec     Codec
}

// NewPublisherTransport returns a transport publishing E to topic. A nil
// codec selects JSONCodec.
func NewPublisherTransport[E any](publisher message.Publisher, topic string, codec Codec, opts ...TopicOption) (*PublisherTransport[E], error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &PublisherTransport[E]{
		publisher: publisher,
		topic:     newTopic[E](topic, opts),
		codec:     codec,
	}, nil
}

func (t *PublisherTransport[E]) Name() string { return Name }

// Topic returns the destination topic.
func (t *PublisherTransport[E]) Topic() string { return t.topic.Topic() }

// Send encodes evt and publishes it with the correlation headers of cc. Only
// entries scoped across transports leave the process.
func (t *PublisherTransport[E]) Send(ctx context.Context, evt E, _ services.Provider, cc *correlation.Context) (pipeline.Unit, error) {
	if cc == nil {
		ctx, cc = correlation.GetOrCreate(ctx)
	}

	payload, err := t.codec.Marshal(evt)
	if err != nil {
		return pipeline.Unit{}, err
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	metadata.Apply(msg, metadata.New(
		metadata.KeyEventType, t.topic.EventType(),
		metadata.KeyOperationID, cc.OperationID(),
		metadata.KeyTraceID, cc.TraceID(),
		metadata.KeyContentType, t.codec.ContentType(),
	))
	if encoded := cc.EncodeDownstream(); encoded != "" {
		msg.Metadata.Set(metadata.KeyContext, encoded)
	}
	msg.SetContext(ctx)

	return pipeline.Unit{}, t.publisher.Publish(t.topic.Topic(), msg)
}

// Transport resolves a PublisherTransport on bus for E and topic.
func Transport[E any](bus *Bus, topic string, opts ...TopicOption) dispatch.TransportFactory[E, pipeline.Unit] {
	return func(context.Context, dispatch.TransportBuilder) (dispatch.Transport[E, pipeline.Unit], error) {
		if bus == nil {
			return nil, errspkg.ErrPublisherRequired
		}
		return NewPublisherTransport[E](bus.publisher, topic, bus.codec, opts...)
	}
}

// NewPublisher returns a publisher sending E to topic through bus, running
// the default middlewares configured for the bus. bus must not be nil.
func NewPublisher[E any](bus *Bus, topic string, opts ...TopicOption) *eventing.Publisher[E] {
	return eventing.NewPublisher[E](bus.registry, bus.services, dispatch.WithLogger(bus.logger)).
		WithPipeline(middleware.Defaults[E, pipeline.Unit](bus.conf, bus.logger, bus.collectors)).
		WithTransport(Transport[E](bus, topic, opts...))
}
