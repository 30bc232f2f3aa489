package dispatch

import (
	"context"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/services"
)

// Transport delivers a payload. Name identifies the transport in the
// descriptor handed to middlewares; transport.InProcessName marks local
// delivery.
type Transport[P, R any] interface {
	Name() string
	Send(ctx context.Context, payload P, sp services.Provider, cc *correlation.Context) (R, error)
}

// SendFunc is the function form of Transport.Send.
type SendFunc[P, R any] func(ctx context.Context, payload P, sp services.Provider, cc *correlation.Context) (R, error)

type funcTransport[P, R any] struct {
	name string
	send SendFunc[P, R]
}

func (t funcTransport[P, R]) Name() string { return t.name }

func (t funcTransport[P, R]) Send(ctx context.Context, payload P, sp services.Provider, cc *correlation.Context) (R, error) {
	return t.send(ctx, payload, sp, cc)
}

// NewTransport returns a Transport named name that delegates to send.
func NewTransport[P, R any](name string, send SendFunc[P, R]) Transport[P, R] {
	return funcTransport[P, R]{name: name, send: send}
}

// TransportBuilder is what a TransportFactory sees while resolving the
// transport for one dispatch.
type TransportBuilder struct {
	Services    services.Provider
	Correlation *correlation.Context
}

// TransportFactory resolves the transport for one dispatch. It runs after the
// root operation id was assigned.
type TransportFactory[P, R any] func(ctx context.Context, b TransportBuilder) (Transport[P, R], error)

// Fixed always resolves t.
func Fixed[P, R any](t Transport[P, R]) TransportFactory[P, R] {
	return func(context.Context, TransportBuilder) (Transport[P, R], error) {
		return t, nil
	}
}

// FromSync adapts a factory that cannot fail.
func FromSync[P, R any](fn func(b TransportBuilder) Transport[P, R]) TransportFactory[P, R] {
	return func(_ context.Context, b TransportBuilder) (Transport[P, R], error) {
		return fn(b), nil
	}
}
