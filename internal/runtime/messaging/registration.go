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

// Invoker runs a registered handler behind its receiving-side pipeline.
// payload must be of the registration's PayloadType.
type Invoker interface {
	Invoke(ctx context.Context, sp services.Provider, payload any, transportName string) (any, error)
}

// Registration describes one message handler. It is immutable once built.
type Registration struct {
	PayloadType  reflect.Type
	ResponseType reflect.Type
	// HandlerType is the concrete handler type; nil for delegates.
	HandlerType    reflect.Type
	HasDelegate    bool
	Invoker        Invoker
	TypesInjectors []transport.TypesInjector
}

// Supports reports whether the handler can be reached through capability.
func (r Registration) Supports(capability transport.Capability) bool {
	_, ok := transport.FindInjector(r.TypesInjectors, capability)
	return ok
}

type registrationOptions struct {
	injectors        []transport.TypesInjector
	withoutInProcess bool
	pipelines        []any
	dispatch         []dispatch.Option
}

// Option customises a Registration.
type Option func(*registrationOptions)

// WithTypesInjectors makes the handler reachable through additional transports.
func WithTypesInjectors(injectors ...transport.TypesInjector) Option {
	return func(o *registrationOptions) {
		o.injectors = append(o.injectors, injectors...)
	}
}

// WithoutInProcess hides the handler from in-process clients.
func WithoutInProcess() Option {
	return func(o *registrationOptions) {
		o.withoutInProcess = true
	}
}

// WithHandlerPipeline adds receiving-side middlewares. M and R must match the
// registration.
func WithHandlerPipeline[M, R any](configure pipeline.ConfigureFunc[M, R]) Option {
	return func(o *registrationOptions) {
		o.pipelines = append(o.pipelines, configure)
	}
}

// WithDispatchOptions configures the receiving-side dispatcher, for example
// its logger.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *registrationOptions) {
		o.dispatch = append(o.dispatch, opts...)
	}
}

// NewHandlerRegistration registers h for messages of type M.
func NewHandlerRegistration[M, R any](h Handler[M, R], opts ...Option) (Registration, error) {
	if h == nil {
		return Registration{}, errspkg.ErrHandlerRequired
	}
	reg, err := newRegistration(h, opts)
	if err != nil {
		return Registration{}, err
	}
	reg.HandlerType = reflect.TypeOf(h)
	return reg, nil
}

// NewDelegateRegistration registers fn for messages of type M.
func NewDelegateRegistration[M, R any](fn func(ctx context.Context, msg M) (R, error), opts ...Option) (Registration, error) {
	if fn == nil {
		return Registration{}, errspkg.ErrHandlerRequired
	}
	reg, err := newRegistration[M, R](HandlerFunc[M, R](fn), opts)
	if err != nil {
		return Registration{}, err
	}
	reg.HasDelegate = true
	return reg, nil
}

func newRegistration[M, R any](h Handler[M, R], opts []Option) (Registration, error) {
	var o registrationOptions
	for _, opt := range opts {
		opt(&o)
	}

	var configure []pipeline.ConfigureFunc[M, R]
	if pc, ok := h.(PipelineConfigurer[M, R]); ok {
		configure = append(configure, pc.ConfigurePipeline)
	}
	for _, raw := range o.pipelines {
		fn, ok := raw.(pipeline.ConfigureFunc[M, R])
		if !ok {
			return Registration{}, fmt.Errorf("%w: pipeline %T does not match handler for %v", errspkg.ErrUnexpectedPayload, raw, reflect.TypeFor[M]())
		}
		configure = append(configure, fn)
	}

	base := dispatch.New[M, R](nil, nil, transport.RoleServer, o.dispatch...)
	if len(configure) > 0 {
		base = base.WithPipeline(pipeline.Chain(configure...))
	}

	injectors := make([]transport.TypesInjector, 0, len(o.injectors)+1)
	if !o.withoutInProcess {
		injectors = append(injectors, transport.InProcess())
	}
	injectors = append(injectors, o.injectors...)

	return Registration{
		PayloadType:    reflect.TypeFor[M](),
		ResponseType:   reflect.TypeFor[R](),
		Invoker:        &invoker[M, R]{handler: h, base: base},
		TypesInjectors: injectors,
	}, nil
}

type invoker[M, R any] struct {
	handler Handler[M, R]
	base    *dispatch.Dispatcher[M, R]
}

// Invoke dispatches payload to the handler with role Server so the handler's
// pipeline observes the transport the message arrived through.
func (i *invoker[M, R]) Invoke(ctx context.Context, sp services.Provider, payload any, transportName string) (any, error) {
	msg, ok := payload.(M)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want %v", errspkg.ErrUnexpectedPayload, payload, reflect.TypeFor[M]())
	}

	handlerTransport := dispatch.NewTransport(transportName, func(ctx context.Context, msg M, _ services.Provider, _ *correlation.Context) (R, error) {
		return i.handler.Handle(ctx, msg)
	})

	d := i.base.WithTransport(dispatch.Fixed(handlerTransport))
	return d.WithServices(sp).Dispatch(ctx, msg)
}
