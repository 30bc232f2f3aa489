package eventbus

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/eventing"
	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/metadata"
)

// UnprocessableError marks a message that can never be handled, such as one
// with a payload that does not decode. Retrying it is pointless, and the
// default poison queue filter routes it to the poison queue.
type UnprocessableError struct {
	MessageUUID string
	Err         error
}

func (e *UnprocessableError) Error() string {
	return fmt.Sprintf("unprocessable message %s: %v", e.MessageUUID, e.Err)
}

func (e *UnprocessableError) Unwrap() error { return e.Err }

// IsUnprocessable reports whether err wraps an UnprocessableError.
func IsUnprocessable(err error) bool {
	var target *UnprocessableError
	return errors.As(err, &target)
}

type route struct {
	injector TopicInjector
	invokers []eventing.Invoker
}

// routes groups the bus handlers by topic and event type, keeping
// registration order within each group.
func buildRoutes(registry *eventing.Registry) map[string]map[string]*route {
	topics := make(map[string]map[string]*route)
	for _, ri := range registry.ReceiverInvokers(Capability) {
		inj, ok := ri.Injector.(TopicInjector)
		if !ok {
			continue
		}
		byType, ok := topics[inj.Topic()]
		if !ok {
			byType = make(map[string]*route)
			topics[inj.Topic()] = byType
		}
		rt, ok := byType[inj.EventType()]
		if !ok {
			rt = &route{injector: inj}
			byType[inj.EventType()] = rt
		}
		rt.invokers = append(rt.invokers, ri.Invoker)
	}
	return topics
}

// receive returns the router handler for one topic. It restores the
// correlation carried by the message and broadcasts the decoded event to the
// handlers registered for its event type.
func (b *Bus) receive(topic string, routes map[string]*route) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		md := metadata.FromWatermill(msg.Metadata)
		fields := logging.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
			"event_type":   md.EventType(),
		}

		rt, ok := routes[md.EventType()]
		if !ok {
			b.logger.Debug("No handler for event type, acknowledging", fields)
			return nil
		}

		evt, err := rt.injector.Decode(codecFor(md.ContentType(), b.codec), msg.Payload)
		if err != nil {
			return &UnprocessableError{MessageUUID: msg.UUID, Err: err}
		}

		ctx := msg.Context()
		traceID := md.TraceID()
		if traceID == "" {
			traceID = ids.NewTraceID(ctx)
		}
		cc := correlation.New(traceID)
		cc.SetOperationID(md.OperationID())
		if err := cc.Decode(md.Context()); err != nil {
			return &UnprocessableError{MessageUUID: msg.UUID, Err: err}
		}
		ctx = correlation.WithContext(ctx, cc)

		fields["operation_id"] = cc.OperationID()
		fields["trace_id"] = cc.TraceID()
		fields["handlers"] = len(rt.invokers)
		b.logger.Trace("Broadcasting received event", fields)

		return b.strategy.Broadcast(ctx, rt.invokers, b.services, evt, Name)
	}
}
