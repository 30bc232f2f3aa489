// Package relay dispatches messages and event notifications through a
// configurable middleware pipeline while carrying a correlation context
// (trace id, operation id and scoped key/value data) across every hop.
//
// Messages have exactly one handler and return a response. Clients built
// with NewClient find the handler in a MessageRegistry and invoke it
// in-process. Event notifications fan out to every observing handler in an
// EventRegistry; the BroadcastStrategy decides whether handlers run one after
// another (ThrowOnFirst or CollectAll) or concurrently with an optional
// degree of parallelism.
//
// # Pipelines
//
// Every dispatch builds a fresh Pipeline from the configuration functions of
// the dispatcher. Middlewares see the payload, the CorrelationContext and the
// TransportType describing where the payload is going and from which role.
// DefaultPipeline adds panic recovery and structured logging, plus
// OpenTelemetry spans and Prometheus metrics when Config enables them.
//
// # Event bus
//
// Bus carries event notifications between processes over a watermill broker
// selected by Config.PubSubSystem: channel, kafka, rabbitmq, nats or http.
// Handlers opt in with WithEventTypesInjectors(Topic[E]("orders")) and
// publishers are created with NewBusPublisher. Operation id, trace id and the
// context data scoped ScopeAcrossTransports travel in message metadata and are
// restored on the receiving side. The router runs correlation id, logging,
// tracing, metrics, poison queue, retry and recovery middlewares unless
// BusDependencies disables them.
package relay
