// Package pipeline implements the per-invocation middleware chain shared by
// message and event notification dispatch.
package pipeline

import (
	"context"
	"reflect"

	"github.com/drblury/relay/internal/runtime/correlation"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

// Unit is the response type of event notification pipelines.
type Unit = struct{}

// Next continues the chain with the given payload.
type Next[P, R any] func(ctx context.Context, payload P) (R, error)

// Context is handed to every middleware. Calling Next continues the chain;
// returning without calling it short-circuits delivery.
type Context[P, R any] struct {
	Payload       P
	Services      services.Provider
	Correlation   *correlation.Context
	TransportType transport.Type

	next Next[P, R]
}

// Next invokes the rest of the chain. It must be called at most once.
func (c *Context[P, R]) Next(ctx context.Context, payload P) (R, error) {
	return c.next(ctx, payload)
}

// Middleware intercepts a dispatch.
type Middleware[P, R any] interface {
	Execute(ctx context.Context, mc *Context[P, R]) (R, error)
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc[P, R any] func(ctx context.Context, mc *Context[P, R]) (R, error)

func (f MiddlewareFunc[P, R]) Execute(ctx context.Context, mc *Context[P, R]) (R, error) {
	return f(ctx, mc)
}

// Pipeline is an ordered, mutable list of middlewares built for a single
// invocation. It is not safe for concurrent use.
type Pipeline[P, R any] struct {
	services      services.Provider
	correlation   *correlation.Context
	transportType transport.Type
	middlewares   []Middleware[P, R]
}

// New returns an empty pipeline bound to one invocation.
func New[P, R any](sp services.Provider, cc *correlation.Context, tt transport.Type) *Pipeline[P, R] {
	return &Pipeline[P, R]{
		services:      services.OrEmpty(sp),
		correlation:   cc,
		transportType: tt,
	}
}

// Services returns the provider the pipeline is bound to.
func (p *Pipeline[P, R]) Services() services.Provider { return p.services }

// Correlation returns the correlation context of the invocation.
func (p *Pipeline[P, R]) Correlation() *correlation.Context { return p.correlation }

// TransportType returns the resolved transport descriptor.
func (p *Pipeline[P, R]) TransportType() transport.Type { return p.transportType }

// Len returns the number of middlewares.
func (p *Pipeline[P, R]) Len() int { return len(p.middlewares) }

// Middlewares returns a copy of the middleware list in registration order.
func (p *Pipeline[P, R]) Middlewares() []Middleware[P, R] {
	return append([]Middleware[P, R](nil), p.middlewares...)
}

// UseFunc appends a function middleware.
func (p *Pipeline[P, R]) UseFunc(f MiddlewareFunc[P, R]) *Pipeline[P, R] { return p.Use(f) }

// Use appends middlewares. The first middleware added is the outermost layer.
func (p *Pipeline[P, R]) Use(middlewares ...Middleware[P, R]) *Pipeline[P, R] {
	for _, mw := range middlewares {
		if mw != nil {
			p.middlewares = append(p.middlewares, mw)
		}
	}
	return p
}

// Without removes every middleware of type T.
func Without[T Middleware[P, R], P, R any](p *Pipeline[P, R]) *Pipeline[P, R] {
	kept := p.middlewares[:0]
	for _, mw := range p.middlewares {
		if _, ok := mw.(T); !ok {
			kept = append(kept, mw)
		}
	}
	clear(p.middlewares[len(kept):])
	p.middlewares = kept
	return p
}

// Configure applies configure to every middleware of type T. It fails with a
// *MiddlewareNotPresentError when the pipeline holds none.
func Configure[T Middleware[P, R], P, R any](p *Pipeline[P, R], configure func(T)) error {
	found := false
	for _, mw := range p.middlewares {
		if typed, ok := mw.(T); ok {
			found = true
			configure(typed)
		}
	}
	if !found {
		return &errspkg.MiddlewareNotPresentError{Type: reflect.TypeFor[T]()}
	}
	return nil
}

// Contains reports whether the pipeline holds a middleware of type T.
func Contains[T Middleware[P, R], P, R any](p *Pipeline[P, R]) bool {
	for _, mw := range p.middlewares {
		if _, ok := mw.(T); ok {
			return true
		}
	}
	return false
}

// ConfigureFunc populates a pipeline. Returning an error aborts the dispatch.
type ConfigureFunc[P, R any] func(p *Pipeline[P, R]) error

// Chain runs fns in order, stopping at the first error.
func Chain[P, R any](fns ...ConfigureFunc[P, R]) ConfigureFunc[P, R] {
	return func(p *Pipeline[P, R]) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// Build snapshots the pipeline into a Runner. Later changes to the pipeline
// do not affect the runner.
func (p *Pipeline[P, R]) Build() *Runner[P, R] {
	reversed := make([]Middleware[P, R], len(p.middlewares))
	for i, mw := range p.middlewares {
		reversed[len(p.middlewares)-1-i] = mw
	}
	return &Runner[P, R]{
		reversed:      reversed,
		services:      p.services,
		correlation:   p.correlation,
		transportType: p.transportType,
	}
}
