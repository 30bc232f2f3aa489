package messaging

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/dispatch"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

// InProcessTransport delivers messages to the handler registered in registry.
func InProcessTransport[M, R any](registry *Registry) dispatch.Transport[M, R] {
	return &inProcessTransport[M, R]{registry: registry}
}

type inProcessTransport[M, R any] struct {
	registry *Registry
}

func (t *inProcessTransport[M, R]) Name() string { return transport.InProcessName }

func (t *inProcessTransport[M, R]) Send(ctx context.Context, msg M, sp services.Provider, _ *correlation.Context) (R, error) {
	var zero R
	if t.registry == nil {
		return zero, errspkg.ErrRegistryRequired
	}

	payloadType := reflect.TypeFor[M]()
	responseType := reflect.TypeFor[R]()
	reg, ok := t.registry.Lookup(payloadType, responseType, transport.CapabilityInProcess)
	if !ok {
		return zero, &errspkg.HandlerNotFoundError{PayloadType: payloadType, ResponseType: responseType}
	}

	resp, err := reg.Invoker.Invoke(ctx, sp, msg, transport.InProcessName)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(R)
	if !ok && resp != nil {
		return zero, fmt.Errorf("%w: handler returned %T, want %v", errspkg.ErrUnexpectedPayload, resp, responseType)
	}
	return typed, nil
}

// Client is the typed entry point for sending M and receiving R. Clients are
// immutable; With* methods return new clients.
type Client[M, R any] struct {
	dispatcher *dispatch.Dispatcher[M, R]
}

// NewClient returns a client that delivers in-process through registry
// unless WithTransport selects another transport.
func NewClient[M, R any](registry *Registry, sp services.Provider, opts ...dispatch.Option) *Client[M, R] {
	return &Client[M, R]{
		dispatcher: dispatch.New(sp, dispatch.Fixed(InProcessTransport[M, R](registry)), transport.RoleClient, opts...),
	}
}

// Handle sends msg and waits for the response.
func (c *Client[M, R]) Handle(ctx context.Context, msg M) (R, error) {
	return c.dispatcher.Dispatch(ctx, msg)
}

// WithPipeline returns a client that additionally runs configure.
func (c *Client[M, R]) WithPipeline(configure pipeline.ConfigureFunc[M, R]) *Client[M, R] {
	return &Client[M, R]{dispatcher: c.dispatcher.WithPipeline(configure)}
}

// WithTransport returns a client resolving its transport with factory.
func (c *Client[M, R]) WithTransport(factory dispatch.TransportFactory[M, R]) *Client[M, R] {
	return &Client[M, R]{dispatcher: c.dispatcher.WithTransport(factory)}
}
