package middleware

import (
	"context"
	"time"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/jsoncodec"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Logging logs the start and outcome of every dispatch.
type Logging[P, R any] struct {
	Logger logging.ServiceLogger
	// LogPayloads adds the JSON encoded payload to the start entry.
	LogPayloads bool
}

// NewLogging returns a logging middleware. A nil logger discards entries.
func NewLogging[P, R any](logger logging.ServiceLogger, logPayloads bool) *Logging[P, R] {
	return &Logging[P, R]{Logger: logger, LogPayloads: logPayloads}
}

func (m *Logging[P, R]) Execute(ctx context.Context, mc *pipeline.Context[P, R]) (R, error) {
	logger := logging.OrNop(m.Logger).With(logging.LogFields{
		"payload_type": payloadTypeName[P](),
		"transport":    mc.TransportType.Name,
		"role":         mc.TransportType.Role.String(),
		"operation_id": mc.Correlation.OperationID(),
		"trace_id":     mc.Correlation.TraceID(),
	})

	startFields := logging.LogFields{}
	if m.LogPayloads {
		if data, err := jsoncodec.Marshal(mc.Payload); err == nil {
			startFields["payload"] = string(data)
		} else {
			startFields["payload_error"] = err.Error()
		}
	}
	logger.Debug("Dispatch started", startFields)

	started := time.Now()
	resp, err := mc.Next(ctx, mc.Payload)
	fields := logging.LogFields{"duration_ms": time.Since(started).Milliseconds()}

	switch {
	case err == nil:
		logger.Debug("Dispatch completed", fields)
	case errspkg.IsCancellation(err):
		logger.Info("Dispatch cancelled", fields)
	default:
		logger.Error("Dispatch failed", err, fields)
	}
	return resp, err
}
