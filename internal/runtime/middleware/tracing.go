package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/transport"
)

const tracerName = "github.com/drblury/relay"

// Tracing wraps every dispatch in an OpenTelemetry span.
type Tracing[P, R any] struct {
	// Provider defaults to the global tracer provider.
	Provider trace.TracerProvider
	// SpanName defaults to "relay <payload type>".
	SpanName string
}

// NewTracing returns a tracing middleware using tp, or the global provider
// when tp is nil.
func NewTracing[P, R any](tp trace.TracerProvider) *Tracing[P, R] {
	return &Tracing[P, R]{Provider: tp}
}

func (m *Tracing[P, R]) Execute(ctx context.Context, mc *pipeline.Context[P, R]) (R, error) {
	tp := m.Provider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	name := m.SpanName
	if name == "" {
		name = "relay " + payloadTypeName[P]()
	}

	ctx, span := tp.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(spanKind(mc.TransportType.Role)),
		trace.WithAttributes(
			attribute.String("relay.payload_type", payloadTypeName[P]()),
			attribute.String("relay.transport", mc.TransportType.Name),
			attribute.String("relay.role", mc.TransportType.Role.String()),
			attribute.String("relay.operation_id", mc.Correlation.OperationID()),
			attribute.String("relay.trace_id", mc.Correlation.TraceID()),
		),
	)
	defer span.End()

	resp, err := mc.Next(ctx, mc.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func spanKind(role transport.Role) trace.SpanKind {
	switch role {
	case transport.RoleClient:
		return trace.SpanKindClient
	case transport.RoleServer:
		return trace.SpanKindServer
	case transport.RoleSender, transport.RolePublisher:
		return trace.SpanKindProducer
	case transport.RoleReceiver:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}
