package eventbus

import (
	"fmt"
	"reflect"
	"strings"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/relay/internal/runtime/transport"
)

// Capability marks handlers reachable through the event bus.
const Capability transport.Capability = "watermill"

// TopicInjector routes one event type through one broker topic. It is the
// types injector handed to eventing.WithTypesInjectors.
type TopicInjector interface {
	transport.TypesInjector
	Topic() string
	// EventType is the value of the relay_event_type header.
	EventType() string
	PayloadType() reflect.Type
	// Decode returns a new event notification decoded from data.
	Decode(codec Codec, data []byte) (any, error)
}

// TopicOption customises a topic injector.
type TopicOption func(*topicOptions)

type topicOptions struct {
	eventType string
}

// WithEventType overrides the relay_event_type header. Publisher and
// receiver must agree on it.
func WithEventType(name string) TopicOption {
	return func(o *topicOptions) {
		o.eventType = name
	}
}

// Topic returns the injector routing E through topic.
func Topic[E any](topic string, opts ...TopicOption) TopicInjector {
	return newTopic[E](topic, opts)
}

type topicInjector[E any] struct {
	topic     string
	eventType string
	pointer   bool
	elem      reflect.Type
}

func newTopic[E any](topic string, opts []TopicOption) *topicInjector[E] {
	typ := reflect.TypeFor[E]()
	t := &topicInjector[E]{topic: topic}
	if typ.Kind() == reflect.Pointer {
		t.pointer = true
		t.elem = typ.Elem()
	}

	o := topicOptions{eventType: t.defaultEventType()}
	for _, opt := range opts {
		opt(&o)
	}
	t.eventType = o.eventType
	return t
}

func (t *topicInjector[E]) Capability() transport.Capability { return Capability }
func (t *topicInjector[E]) Topic() string                    { return t.topic }
func (t *topicInjector[E]) EventType() string                { return t.eventType }
func (t *topicInjector[E]) PayloadType() reflect.Type        { return reflect.TypeFor[E]() }

func (t *topicInjector[E]) newPayload() E {
	if t.pointer {
		return reflect.New(t.elem).Interface().(E)
	}
	var zero E
	return zero
}

// Protobuf messages are named by their full name, everything else by the Go
// type without pointer indirection.
func (t *topicInjector[E]) defaultEventType() string {
	if msg, ok := any(t.newPayload()).(proto.Message); ok {
		return string(msg.ProtoReflect().Descriptor().FullName())
	}
	return strings.TrimLeft(reflect.TypeFor[E]().String(), "*")
}

func (t *topicInjector[E]) Decode(codec Codec, data []byte) (any, error) {
	evt := t.newPayload()
	target := any(&evt)
	if t.pointer {
		target = any(evt)
	}
	if err := codec.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.eventType, err)
	}
	return evt, nil
}
