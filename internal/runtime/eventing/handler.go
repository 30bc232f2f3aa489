// Package eventing implements event notification fan-out: handlers, their
// registrations, the many-handlers-per-type registry with its lazily cached
// invoker lists, the broadcasting strategies, and the typed publisher proxy.
package eventing

import (
	"context"

	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Handler observes event notifications of type E.
type Handler[E any] interface {
	Handle(ctx context.Context, evt E) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[E any] func(ctx context.Context, evt E) error

func (f HandlerFunc[E]) Handle(ctx context.Context, evt E) error {
	return f(ctx, evt)
}

// PipelineConfigurer is implemented by handlers that install their own
// receiving-side middlewares.
type PipelineConfigurer[E any] interface {
	ConfigurePipeline(p *pipeline.Pipeline[E, pipeline.Unit]) error
}
