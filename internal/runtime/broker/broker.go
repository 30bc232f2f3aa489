// Package broker builds the watermill publisher and subscriber pair used by
// the cross-process event bus, one builder per supported pub/sub system.
package broker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// Pub/sub system names accepted by Config.PubSubSystem.
const (
	Channel  = "channel"
	Kafka    = "kafka"
	RabbitMQ = "rabbitmq"
	NATS     = "nats"
	HTTP     = "http"
	AWS      = "aws"
)

// Broker combines a publisher and subscriber pair.
type Broker struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides. A pub/sub implementing both is closed once.
func (b Broker) Close() error {
	var errs []error
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	if b.Subscriber != nil {
		if same, ok := b.Subscriber.(message.Publisher); !ok || same != b.Publisher {
			errs = append(errs, b.Subscriber.Close())
		}
	}
	return errors.Join(errs...)
}

// Builder creates a Broker from config.
type Builder func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error)

// Factory abstracts how the event bus obtains its broker.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error)
}

// Capabilities describes delivery guarantees of a pub/sub system.
type Capabilities struct {
	Name string
	// SupportsAck and SupportsNack together mean at-least-once delivery.
	SupportsAck  bool
	SupportsNack bool
	// SupportsOrdering means messages on one topic are delivered in order.
	SupportsOrdering bool
	// Persistent means messages survive a process restart.
	Persistent bool
}

// SupportsReliableDelivery reports whether failed messages are redelivered.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Registry maps pub/sub system names to builders.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds or replaces the builder for name.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caps.Name == "" {
		caps.Name = name
	}
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// Capabilities returns the capabilities registered for name, or a zero value
// carrying only the name.
func (r *Registry) Capabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Has reports whether a builder is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build creates the broker selected by conf.PubSubSystem.
func (r *Registry) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Broker, error) {
	if conf == nil {
		return Broker{}, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	r.mu.RLock()
	builder, ok := r.builders[conf.PubSubSystem]
	r.mu.RUnlock()
	if !ok {
		return Broker{}, fmt.Errorf("unknown pub/sub system %q (registered: %v)", conf.PubSubSystem, r.Names())
	}
	return builder(ctx, conf, logger)
}

// NewDefaultRegistry returns a registry with every built-in pub/sub system.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Channel, channelBroker, Capabilities{SupportsAck: true, SupportsNack: true, SupportsOrdering: true})
	r.Register(Kafka, kafkaBroker, Capabilities{SupportsAck: true, SupportsNack: true, SupportsOrdering: true, Persistent: true})
	r.Register(RabbitMQ, rabbitBroker, Capabilities{SupportsAck: true, SupportsNack: true, Persistent: true})
	r.Register(NATS, natsBroker, Capabilities{SupportsAck: true, SupportsNack: true})
	r.Register(HTTP, httpBroker, Capabilities{SupportsAck: true, SupportsNack: true})
	r.Register(AWS, awsBroker, Capabilities{SupportsAck: true, SupportsNack: true, Persistent: true})
	return r
}

// DefaultFactory returns a factory backed by NewDefaultRegistry.
func DefaultFactory() Factory {
	return NewDefaultRegistry()
}
