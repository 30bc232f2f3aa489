// Package dispatch orchestrates one end-to-end invocation: correlation scope,
// operation id assignment, transport resolution, and the middleware pipeline.
package dispatch

import (
	"context"
	"reflect"
	"slices"

	"github.com/drblury/relay/internal/runtime/correlation"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

type options struct {
	ids    ids.Factory
	logger logging.ServiceLogger
}

// Option customises a Dispatcher.
type Option func(*options)

// WithIDFactory overrides the operation id generator.
func WithIDFactory(f ids.Factory) Option {
	return func(o *options) {
		if f != nil {
			o.ids = f
		}
	}
}

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l logging.ServiceLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Dispatcher is bound to one payload type, one role and one transport
// resolution strategy. It is immutable: With* methods return new dispatchers
// and leave the receiver untouched.
type Dispatcher[P, R any] struct {
	services    services.Provider
	factory     TransportFactory[P, R]
	configure   []pipeline.ConfigureFunc[P, R]
	role        transport.Role
	ids         ids.Factory
	logger      logging.ServiceLogger
	payloadType string
}

// New returns a Dispatcher. A nil factory is reported as ErrTransportRequired
// on Dispatch.
func New[P, R any](sp services.Provider, factory TransportFactory[P, R], role transport.Role, opts ...Option) *Dispatcher[P, R] {
	o := options{ids: ids.Default(), logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Dispatcher[P, R]{
		services:    services.OrEmpty(sp),
		factory:     factory,
		role:        role,
		ids:         o.ids,
		logger:      o.logger,
		payloadType: reflect.TypeFor[P]().String(),
	}
}

func (d *Dispatcher[P, R]) Role() transport.Role { return d.role }

func (d *Dispatcher[P, R]) Services() services.Provider { return d.services }

// WithPipeline returns a dispatcher that runs configure after every
// previously registered pipeline configuration.
func (d *Dispatcher[P, R]) WithPipeline(configure pipeline.ConfigureFunc[P, R]) *Dispatcher[P, R] {
	next := *d
	next.configure = append(slices.Clone(d.configure), configure)
	return &next
}

// WithTransport returns a dispatcher resolving its transport with factory
// instead of the current one.
func (d *Dispatcher[P, R]) WithTransport(factory TransportFactory[P, R]) *Dispatcher[P, R] {
	next := *d
	next.factory = factory
	return &next
}

// WithServices returns a dispatcher resolving collaborators from sp.
func (d *Dispatcher[P, R]) WithServices(sp services.Provider) *Dispatcher[P, R] {
	next := *d
	next.services = services.OrEmpty(sp)
	return &next
}

// Dispatch delivers payload through the pipeline and the resolved transport.
// The correlation scope opened here is released before Dispatch returns.
func (d *Dispatcher[P, R]) Dispatch(ctx context.Context, payload P) (R, error) {
	var zero R

	ctx, cc, release := correlation.CloneOrCreate(ctx)
	defer release()

	originalID := cc.OperationID()
	if originalID == "" {
		cc.SetOperationID(d.ids.NewID())
	}

	if d.factory == nil {
		return zero, errspkg.ErrTransportRequired
	}
	t, err := d.factory(ctx, TransportBuilder{Services: d.services, Correlation: cc})
	if err != nil {
		return zero, err
	}
	if t == nil {
		return zero, errspkg.ErrTransportRequired
	}

	tt := transport.NewType(t.Name(), d.role)

	// Nested in-process calls get their own id; remote hops get one from the
	// receiving side.
	if originalID != "" && tt.IsInProcess() && d.role.IsOriginating() {
		cc.SetOperationID(d.ids.NewID())
	}

	p := pipeline.New[P, R](d.services, cc, tt)
	for _, configure := range d.configure {
		if configure == nil {
			continue
		}
		if err := configure(p); err != nil {
			return zero, err
		}
	}

	d.logger.Trace("Dispatching payload", logging.LogFields{
		"payload_type": d.payloadType,
		"transport":    tt.Name,
		"role":         tt.Role.String(),
		"operation_id": cc.OperationID(),
		"trace_id":     cc.TraceID(),
		"middlewares":  p.Len(),
	})

	return p.Build().Execute(ctx, payload, func(ctx context.Context, payload P) (R, error) {
		return t.Send(ctx, payload, d.services, cc)
	})
}
