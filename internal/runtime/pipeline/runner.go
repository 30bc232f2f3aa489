package pipeline

import (
	"context"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

// Runner executes a built pipeline around a transport call.
type Runner[P, R any] struct {
	reversed      []Middleware[P, R]
	services      services.Provider
	correlation   *correlation.Context
	transportType transport.Type
}

// Execute wraps transportCall with every middleware, last registered
// innermost, and invokes the result with payload.
func (r *Runner[P, R]) Execute(ctx context.Context, payload P, transportCall Next[P, R]) (R, error) {
	next := transportCall
	for _, mw := range r.reversed {
		inner := next
		next = func(ctx context.Context, payload P) (R, error) {
			return mw.Execute(ctx, &Context[P, R]{
				Payload:       payload,
				Services:      r.services,
				Correlation:   r.correlation,
				TransportType: r.transportType,
				next:          inner,
			})
		}
	}
	return next(ctx, payload)
}
