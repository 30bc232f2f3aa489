package eventing

import (
	"context"
	"reflect"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/dispatch"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

// InProcessTransport broadcasts notifications to the in-process handlers in
// registry. A nil strategy is resolved from the publishing services, falling
// back to DefaultStrategy.
func InProcessTransport[E any](registry *Registry, strategy Strategy) dispatch.Transport[E, pipeline.Unit] {
	return &inProcessTransport[E]{registry: registry, strategy: strategy}
}

type inProcessTransport[E any] struct {
	registry *Registry
	strategy Strategy
}

func (t *inProcessTransport[E]) Name() string { return transport.InProcessName }

func (t *inProcessTransport[E]) Send(ctx context.Context, evt E, sp services.Provider, _ *correlation.Context) (pipeline.Unit, error) {
	if t.registry == nil {
		return pipeline.Unit{}, errspkg.ErrRegistryRequired
	}

	invokers := t.registry.InvokersFor(reflect.TypeFor[E](), transport.CapabilityInProcess)
	if len(invokers) == 0 {
		return pipeline.Unit{}, nil
	}

	strategy := t.strategy
	if strategy == nil {
		if resolved, ok := services.Resolve[Strategy](sp); ok && resolved != nil {
			strategy = resolved
		} else {
			strategy = DefaultStrategy()
		}
	}
	return pipeline.Unit{}, strategy.Broadcast(ctx, invokers, sp, evt, transport.InProcessName)
}

// Publisher is the typed entry point for publishing E. Publishers are
// immutable; With* methods return new publishers.
type Publisher[E any] struct {
	registry   *Registry
	dispatcher *dispatch.Dispatcher[E, pipeline.Unit]
	// remote is set once WithTransport replaced in-process delivery.
	remote bool
}

// NewPublisher returns a publisher broadcasting in-process through registry
// unless WithTransport selects another transport.
func NewPublisher[E any](registry *Registry, sp services.Provider, opts ...dispatch.Option) *Publisher[E] {
	return &Publisher[E]{
		registry:   registry,
		dispatcher: dispatch.New(sp, dispatch.Fixed(InProcessTransport[E](registry, nil)), transport.RolePublisher, opts...),
	}
}

// Publish delivers evt to every observing handler.
func (p *Publisher[E]) Publish(ctx context.Context, evt E) error {
	_, err := p.dispatcher.Dispatch(ctx, evt)
	return err
}

// WithPipeline returns a publisher that additionally runs configure.
func (p *Publisher[E]) WithPipeline(configure pipeline.ConfigureFunc[E, pipeline.Unit]) *Publisher[E] {
	return &Publisher[E]{registry: p.registry, dispatcher: p.dispatcher.WithPipeline(configure), remote: p.remote}
}

// WithTransport returns a publisher resolving its transport with factory.
func (p *Publisher[E]) WithTransport(factory dispatch.TransportFactory[E, pipeline.Unit]) *Publisher[E] {
	return &Publisher[E]{registry: p.registry, dispatcher: p.dispatcher.WithTransport(factory), remote: true}
}

// WithStrategy returns a publisher broadcasting in-process through its
// registry with strategy. Strategies only govern in-process delivery: a
// publisher whose transport was replaced with WithTransport keeps that
// transport, and the receiving side applies its own strategy.
func (p *Publisher[E]) WithStrategy(strategy Strategy) *Publisher[E] {
	if p.remote {
		return &Publisher[E]{registry: p.registry, dispatcher: p.dispatcher, remote: true}
	}
	return &Publisher[E]{
		registry:   p.registry,
		dispatcher: p.dispatcher.WithTransport(dispatch.Fixed(InProcessTransport[E](p.registry, strategy))),
	}
}
