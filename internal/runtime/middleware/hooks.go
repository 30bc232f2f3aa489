package middleware

import (
	"context"
	"time"

	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/transport"
)

// DispatchInfo describes one dispatch to lifecycle hooks.
type DispatchInfo struct {
	// PayloadType is the Go type name of the dispatched payload.
	PayloadType   string
	TransportType transport.Type
	OperationID   string
	TraceID       string
	// Context is the context the dispatch runs with.
	Context   context.Context
	StartedAt time.Time
	// Duration is only set for OnDone and OnError.
	Duration time.Duration
}

// Hooks defines callbacks for the dispatch lifecycle. Nil hooks are skipped.
type Hooks struct {
	// OnStart runs before the rest of the pipeline.
	OnStart func(info DispatchInfo)
	// OnDone runs after the pipeline returned without error.
	OnDone func(info DispatchInfo)
	// OnError runs after the pipeline returned err.
	OnError func(info DispatchInfo, err error)
}

// Merge combines two Hooks. Hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DispatchInfo, error)) func(DispatchInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// HooksMiddleware invokes Hooks around the rest of the pipeline.
type HooksMiddleware[P, R any] struct {
	Hooks Hooks
}

// NewHooks returns a middleware calling hooks.
func NewHooks[P, R any](hooks Hooks) *HooksMiddleware[P, R] {
	return &HooksMiddleware[P, R]{Hooks: hooks}
}

func (m *HooksMiddleware[P, R]) Execute(ctx context.Context, mc *pipeline.Context[P, R]) (R, error) {
	info := DispatchInfo{
		PayloadType:   payloadTypeName[P](),
		TransportType: mc.TransportType,
		OperationID:   mc.Correlation.OperationID(),
		TraceID:       mc.Correlation.TraceID(),
		Context:       ctx,
		StartedAt:     time.Now(),
	}

	if m.Hooks.OnStart != nil {
		m.Hooks.OnStart(info)
	}

	resp, err := mc.Next(ctx, mc.Payload)
	info.Duration = time.Since(info.StartedAt)

	if err != nil {
		if m.Hooks.OnError != nil {
			m.Hooks.OnError(info, err)
		}
	} else if m.Hooks.OnDone != nil {
		m.Hooks.OnDone(info)
	}
	return resp, err
}

// LoggingHooks returns hooks that log the dispatch lifecycle at Info level.
func LoggingHooks(logger logging.ServiceLogger) Hooks {
	logger = logging.OrNop(logger)
	fields := func(info DispatchInfo) logging.LogFields {
		return logging.LogFields{
			"payload_type": info.PayloadType,
			"transport":    info.TransportType.Name,
			"role":         info.TransportType.Role.String(),
			"operation_id": info.OperationID,
		}
	}
	return Hooks{
		OnStart: func(info DispatchInfo) {
			logger.Info("Dispatch started", fields(info))
		},
		OnDone: func(info DispatchInfo) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Info("Dispatch completed", f)
		},
		OnError: func(info DispatchInfo, err error) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Error("Dispatch failed", err, f)
		},
	}
}

// AlertingHooks returns hooks that only call alert on failures.
func AlertingHooks(alert func(info DispatchInfo, err error)) Hooks {
	return Hooks{OnError: alert}
}
