package eventing

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

// Invoker runs one handler behind its receiving-side pipeline.
type Invoker interface {
	Invoke(ctx context.Context, sp services.Provider, notification any, transportName string) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, sp services.Provider, notification any, transportName string) error

func (f InvokerFunc) Invoke(ctx context.Context, sp services.Provider, notification any, transportName string) error {
	return f(ctx, sp, notification, transportName)
}

// Registration describes one event notification handler.
type Registration struct {
	PayloadType reflect.Type
	// HandlerName identifies the handler in logs and metrics. It defaults to
	// the handler type, or the payload type for delegates.
	HandlerName string
	// HandlerType is nil for delegates.
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

// Handles reports whether notifications of payloadType reach this handler.
// Handlers registered for an interface type observe every implementation.
func (r Registration) Handles(payloadType reflect.Type) bool {
	if r.PayloadType == nil || payloadType == nil {
		return false
	}
	if r.PayloadType == payloadType {
		return true
	}
	return r.PayloadType.Kind() == reflect.Interface && payloadType.Implements(r.PayloadType)
}

type registrationOptions struct {
	name             string
	injectors        []transport.TypesInjector
	withoutInProcess bool
	pipelines        []any
	dispatch         []dispatch.Option
}

// Option customises a Registration.
type Option func(*registrationOptions)

// WithHandlerName overrides the name reported for the handler.
func WithHandlerName(name string) Option {
	return func(o *registrationOptions) {
		o.name = name
	}
}

// WithTypesInjectors makes the handler reachable through additional transports.
func WithTypesInjectors(injectors ...transport.TypesInjector) Option {
	return func(o *registrationOptions) {
		o.injectors = append(o.injectors, injectors...)
	}
}

// WithoutInProcess hides the handler from in-process publishers.
func WithoutInProcess() Option {
	return func(o *registrationOptions) {
		o.withoutInProcess = true
	}
}

// WithHandlerPipeline adds receiving-side middlewares. E must match the
// registration.
func WithHandlerPipeline[E any](configure pipeline.ConfigureFunc[E, pipeline.Unit]) Option {
	return func(o *registrationOptions) {
		o.pipelines = append(o.pipelines, configure)
	}
}

// WithDispatchOptions configures the receiving-side dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *registrationOptions) {
		o.dispatch = append(o.dispatch, opts...)
	}
}

// NewHandlerRegistration registers h for notifications of type E.
func NewHandlerRegistration[E any](h Handler[E], opts ...Option) (Registration, error) {
	if h == nil {
		return Registration{}, errspkg.ErrHandlerRequired
	}
	handlerType := reflect.TypeOf(h)
	reg, err := newRegistration(h, handlerType.String(), opts)
	if err != nil {
		return Registration{}, err
	}
	reg.HandlerType = handlerType
	return reg, nil
}

// NewDelegateRegistration registers fn for notifications of type E.
func NewDelegateRegistration[E any](fn func(ctx context.Context, evt E) error, opts ...Option) (Registration, error) {
	if fn == nil {
		return Registration{}, errspkg.ErrHandlerRequired
	}
	reg, err := newRegistration[E](HandlerFunc[E](fn), "func("+reflect.TypeFor[E]().String()+")", opts)
	if err != nil {
		return Registration{}, err
	}
	reg.HasDelegate = true
	return reg, nil
}

func newRegistration[E any](h Handler[E], defaultName string, opts []Option) (Registration, error) {
	o := registrationOptions{name: defaultName}
	for _, opt := range opts {
		opt(&o)
	}

	var configure []pipeline.ConfigureFunc[E, pipeline.Unit]
	if pc, ok := h.(PipelineConfigurer[E]); ok {
		configure = append(configure, pc.ConfigurePipeline)
	}
	for _, raw := range o.pipelines {
		fn, ok := raw.(pipeline.ConfigureFunc[E, pipeline.Unit])
		if !ok {
			return Registration{}, fmt.Errorf("%w: pipeline %T does not match handler for %v", errspkg.ErrUnexpectedPayload, raw, reflect.TypeFor[E]())
		}
		configure = append(configure, fn)
	}

	base := dispatch.New[E, pipeline.Unit](nil, nil, transport.RoleReceiver, o.dispatch...)
	if len(configure) > 0 {
		base = base.WithPipeline(pipeline.Chain(configure...))
	}

	injectors := make([]transport.TypesInjector, 0, len(o.injectors)+1)
	if !o.withoutInProcess {
		injectors = append(injectors, transport.InProcess())
	}
	injectors = append(injectors, o.injectors...)

	return Registration{
		PayloadType:    reflect.TypeFor[E](),
		HandlerName:    o.name,
		Invoker:        &invoker[E]{handler: h, base: base},
		TypesInjectors: injectors,
	}, nil
}

type invoker[E any] struct {
	handler Handler[E]
	base    *dispatch.Dispatcher[E, pipeline.Unit]
}

func (i *invoker[E]) Invoke(ctx context.Context, sp services.Provider, notification any, transportName string) error {
	evt, ok := notification.(E)
	if !ok {
		return fmt.Errorf("%w: got %T, want %v", errspkg.ErrUnexpectedPayload, notification, reflect.TypeFor[E]())
	}

	handlerTransport := dispatch.NewTransport(transportName, func(ctx context.Context, evt E, _ services.Provider, _ *correlation.Context) (pipeline.Unit, error) {
		return pipeline.Unit{}, i.handler.Handle(ctx, evt)
	})

	_, err := i.base.WithTransport(dispatch.Fixed(handlerTransport)).WithServices(sp).Dispatch(ctx, evt)
	return err
}
