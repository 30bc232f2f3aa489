package middleware

import (
	"context"
	"runtime/debug"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Recover turns a panic in any inner middleware, the transport or the handler
// into a *errors.PanicError.
type Recover[P, R any] struct {
	Logger logging.ServiceLogger
}

// NewRecover returns a recovery middleware. A nil logger discards entries.
func NewRecover[P, R any](logger logging.ServiceLogger) *Recover[P, R] {
	return &Recover[P, R]{Logger: logger}
}

func (m *Recover[P, R]) Execute(ctx context.Context, mc *pipeline.Context[P, R]) (resp R, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var zero R
		resp = zero
		err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
		logging.OrNop(m.Logger).Error("Recovered from panic", err, logging.LogFields{
			"payload_type": payloadTypeName[P](),
			"transport":    mc.TransportType.Name,
			"operation_id": mc.Correlation.OperationID(),
		})
	}()
	return mc.Next(ctx, mc.Payload)
}
