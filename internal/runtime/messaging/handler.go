// Package messaging implements point-to-point message dispatch: handlers,
// their registrations, the one-handler-per-type registry, the in-process
// transport, and the typed client proxy.
package messaging

import (
	"context"

	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Handler handles messages of type M and answers with R. Messages without a
// response use pipeline.Unit.
type Handler[M, R any] interface {
	Handle(ctx context.Context, msg M) (R, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[M, R any] func(ctx context.Context, msg M) (R, error)

func (f HandlerFunc[M, R]) Handle(ctx context.Context, msg M) (R, error) {
	return f(ctx, msg)
}

// PipelineConfigurer is implemented by handlers that install their own
// receiving-side middlewares. It runs before any pipeline passed with
// WithHandlerPipeline.
type PipelineConfigurer[M, R any] interface {
	ConfigurePipeline(p *pipeline.Pipeline[M, R]) error
}
