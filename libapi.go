package relay

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	brokerpkg "github.com/drblury/relay/internal/runtime/broker"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	correlationpkg "github.com/drblury/relay/internal/runtime/correlation"
	dispatchpkg "github.com/drblury/relay/internal/runtime/dispatch"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	buspkg "github.com/drblury/relay/internal/runtime/eventbus"
	eventingpkg "github.com/drblury/relay/internal/runtime/eventing"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	jsoncodec "github.com/drblury/relay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	messagingpkg "github.com/drblury/relay/internal/runtime/messaging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	middlewarepkg "github.com/drblury/relay/internal/runtime/middleware"
	pipelinepkg "github.com/drblury/relay/internal/runtime/pipeline"
	servicespkg "github.com/drblury/relay/internal/runtime/services"
	transportpkg "github.com/drblury/relay/internal/runtime/transport"
)

type (
	Config        = configpkg.Config
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	IDFactory     = idspkg.Factory

	ServiceProvider = servicespkg.Provider
	ServiceMap      = servicespkg.Map

	CorrelationContext = correlationpkg.Context
	ContextData        = correlationpkg.Data
	Scope              = correlationpkg.Scope

	TransportType = transportpkg.Type
	Role          = transportpkg.Role
	Capability    = transportpkg.Capability
	TypesInjector = transportpkg.TypesInjector

	Unit                        = pipelinepkg.Unit
	Pipeline[P, R any]          = pipelinepkg.Pipeline[P, R]
	PipelineContext[P, R any]   = pipelinepkg.Context[P, R]
	Middleware[P, R any]        = pipelinepkg.Middleware[P, R]
	MiddlewareFunc[P, R any]    = pipelinepkg.MiddlewareFunc[P, R]
	ConfigureFunc[P, R any]     = pipelinepkg.ConfigureFunc[P, R]
	Dispatcher[P, R any]        = dispatchpkg.Dispatcher[P, R]
	DispatchOption              = dispatchpkg.Option
	DispatchTransport[P, R any] = dispatchpkg.Transport[P, R]
	TransportFactory[P, R any]  = dispatchpkg.TransportFactory[P, R]
	TransportBuilder            = dispatchpkg.TransportBuilder

	MessageHandler[M, R any] = messagingpkg.Handler[M, R]
	MessageRegistration      = messagingpkg.Registration
	MessageRegistry          = messagingpkg.Registry
	MessageOption            = messagingpkg.Option
	Client[M, R any]         = messagingpkg.Client[M, R]

	EventHandler[E any]   = eventingpkg.Handler[E]
	EventRegistration     = eventingpkg.Registration
	EventRegistry         = eventingpkg.Registry
	EventOption           = eventingpkg.Option
	EventPublisher[E any] = eventingpkg.Publisher[E]
	ReceiverInvoker       = eventingpkg.ReceiverInvoker
	BroadcastStrategy     = eventingpkg.Strategy
	SequentialStrategy    = eventingpkg.SequentialStrategy
	SequentialMode        = eventingpkg.SequentialMode
	ParallelStrategy      = eventingpkg.ParallelStrategy
	ParallelOption        = eventingpkg.ParallelOption

	Hooks        = middlewarepkg.Hooks
	DispatchInfo = middlewarepkg.DispatchInfo
	Collectors   = middlewarepkg.Collectors

	Broker             = brokerpkg.Broker
	BrokerBuilder      = brokerpkg.Builder
	BrokerFactory      = brokerpkg.Factory
	BrokerRegistry     = brokerpkg.Registry
	BrokerCapabilities = brokerpkg.Capabilities

	Bus                    = buspkg.Bus
	BusDependencies        = buspkg.Dependencies
	MiddlewareRegistration = buspkg.MiddlewareRegistration
	MiddlewareBuilder      = buspkg.MiddlewareBuilder
	RetryConfig            = buspkg.RetryConfig
	Codec                  = buspkg.Codec
	JSONCodec              = buspkg.JSONCodec
	ProtoCodec             = buspkg.ProtoCodec
	TopicInjector          = buspkg.TopicInjector
	TopicOption            = buspkg.TopicOption
	UnprocessableError     = buspkg.UnprocessableError

	Metadata = metadatapkg.Metadata

	AggregateError          = errspkg.AggregateError
	PanicError              = errspkg.PanicError
	HandlerNotFoundError    = errspkg.HandlerNotFoundError
	InvalidContextDataError = errspkg.InvalidContextDataError
)

const (
	ScopeInProcess        = correlationpkg.ScopeInProcess
	ScopeAcrossTransports = correlationpkg.ScopeAcrossTransports

	RoleSender    = transportpkg.RoleSender
	RoleReceiver  = transportpkg.RoleReceiver
	RoleClient    = transportpkg.RoleClient
	RoleServer    = transportpkg.RoleServer
	RolePublisher = transportpkg.RolePublisher

	InProcessTransportName = transportpkg.InProcessName
	CapabilityInProcess    = transportpkg.CapabilityInProcess
	BusTransportName       = buspkg.Name
	CapabilityBus          = buspkg.Capability

	ThrowOnFirst = eventingpkg.ThrowOnFirst
	CollectAll   = eventingpkg.CollectAll

	MetadataKeyEventType     = metadatapkg.KeyEventType
	MetadataKeyOperationID   = metadatapkg.KeyOperationID
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeyContext       = metadatapkg.KeyContext
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
)

var (
	LoadConfig  = configpkg.Load
	ParseConfig = configpkg.Parse

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	NewServiceMap = servicespkg.NewMap

	NewCorrelationContext  = correlationpkg.New
	CorrelationFromContext = correlationpkg.FromContext
	WithCorrelation        = correlationpkg.WithContext

	WithIDFactory      = dispatchpkg.WithIDFactory
	WithDispatchLogger = dispatchpkg.WithLogger
	CreateULID         = idspkg.CreateULID

	NewMessageRegistry        = messagingpkg.NewRegistry
	WithMessageTypesInjectors = messagingpkg.WithTypesInjectors
	MessageWithoutInProcess   = messagingpkg.WithoutInProcess

	NewEventRegistry        = eventingpkg.NewRegistry
	WithHandlerName         = eventingpkg.WithHandlerName
	WithEventTypesInjectors = eventingpkg.WithTypesInjectors
	EventWithoutInProcess   = eventingpkg.WithoutInProcess

	NewParallelStrategy        = eventingpkg.NewParallelStrategy
	WithMaxDegreeOfParallelism = eventingpkg.WithMaxDegreeOfParallelism
	StrategyFromConfig         = eventingpkg.StrategyFromConfig
	DefaultStrategy            = eventingpkg.DefaultStrategy

	LoggingHooks  = middlewarepkg.LoggingHooks
	AlertingHooks = middlewarepkg.AlertingHooks
	NewCollectors = middlewarepkg.NewCollectors

	NewBrokerRegistry    = brokerpkg.NewRegistry
	NewDefaultBrokers    = brokerpkg.NewDefaultRegistry
	DefaultBrokerFactory = brokerpkg.DefaultFactory

	NewBus                  = buspkg.New
	WithEventType           = buspkg.WithEventType
	DefaultMiddlewares      = buspkg.DefaultMiddlewares
	CorrelationIDMiddleware = buspkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = buspkg.LogMessagesMiddleware
	TracerMiddleware        = buspkg.TracerMiddleware
	MetricsMiddleware       = buspkg.MetricsMiddleware
	RetryMiddleware         = buspkg.RetryMiddleware
	PoisonQueueMiddleware   = buspkg.PoisonQueueMiddleware
	RecovererMiddleware     = buspkg.RecovererMiddleware
	IsUnprocessable         = buspkg.IsUnprocessable

	NewMetadata = metadatapkg.New

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	IsCancellation = errspkg.IsCancellation

	ErrTransportRequired          = errspkg.ErrTransportRequired
	ErrMiddlewareNotPresent       = errspkg.ErrMiddlewareNotPresent
	ErrHandlerNotFound            = errspkg.ErrHandlerNotFound
	ErrInvalidContextData         = errspkg.ErrInvalidContextData
	ErrInvalidDegreeOfParallelism = errspkg.ErrInvalidDegreeOfParallelism
	ErrRegistryRequired           = errspkg.ErrRegistryRequired
	ErrHandlerRequired            = errspkg.ErrHandlerRequired
	ErrUnexpectedPayload          = errspkg.ErrUnexpectedPayload
	ErrPublisherRequired          = errspkg.ErrPublisherRequired
	ErrTopicRequired              = errspkg.ErrTopicRequired
	ErrConfigRequired             = errspkg.ErrConfigRequired
	ErrLoggerRequired             = errspkg.ErrLoggerRequired
)

func RegisterService[T any](m *ServiceMap, value T) {
	servicespkg.Register(m, value)
}

func ResolveService[T any](sp ServiceProvider) (T, bool) {
	return servicespkg.Resolve[T](sp)
}

func NewDispatcher[P, R any](sp ServiceProvider, factory TransportFactory[P, R], role Role, opts ...DispatchOption) *Dispatcher[P, R] {
	return dispatchpkg.New(sp, factory, role, opts...)
}

func NewTransport[P, R any](name string, send dispatchpkg.SendFunc[P, R]) DispatchTransport[P, R] {
	return dispatchpkg.NewTransport(name, send)
}

func FixedTransport[P, R any](t DispatchTransport[P, R]) TransportFactory[P, R] {
	return dispatchpkg.Fixed(t)
}

func NewMessageHandlerRegistration[M, R any](h MessageHandler[M, R], opts ...MessageOption) (MessageRegistration, error) {
	return messagingpkg.NewHandlerRegistration(h, opts...)
}

func NewMessageDelegateRegistration[M, R any](fn func(ctx context.Context, msg M) (R, error), opts ...MessageOption) (MessageRegistration, error) {
	return messagingpkg.NewDelegateRegistration(fn, opts...)
}

func WithMessagePipeline[M, R any](configure ConfigureFunc[M, R]) MessageOption {
	return messagingpkg.WithHandlerPipeline(configure)
}

func NewClient[M, R any](registry *MessageRegistry, sp ServiceProvider, opts ...DispatchOption) *Client[M, R] {
	return messagingpkg.NewClient[M, R](registry, sp, opts...)
}

func NewEventHandlerRegistration[E any](h EventHandler[E], opts ...EventOption) (EventRegistration, error) {
	return eventingpkg.NewHandlerRegistration(h, opts...)
}

func NewEventDelegateRegistration[E any](fn func(ctx context.Context, evt E) error, opts ...EventOption) (EventRegistration, error) {
	return eventingpkg.NewDelegateRegistration(fn, opts...)
}

func WithEventPipeline[E any](configure ConfigureFunc[E, Unit]) EventOption {
	return eventingpkg.WithHandlerPipeline(configure)
}

func NewEventPublisher[E any](registry *EventRegistry, sp ServiceProvider, opts ...DispatchOption) *EventPublisher[E] {
	return eventingpkg.NewPublisher[E](registry, sp, opts...)
}

// DefaultPipeline returns recovery and logging, plus tracing and metrics when
// conf enables them.
func DefaultPipeline[P, R any](conf *Config, logger ServiceLogger, collectors *Collectors) ConfigureFunc[P, R] {
	return middlewarepkg.Defaults[P, R](conf, logger, collectors)
}

func UseMiddlewares[P, R any](middlewares ...Middleware[P, R]) ConfigureFunc[P, R] {
	return middlewarepkg.Use(middlewares...)
}

func HooksMiddleware[P, R any](hooks Hooks) Middleware[P, R] {
	return middlewarepkg.NewHooks[P, R](hooks)
}

// Topic routes events of type E through a broker topic. Pass it to
// WithEventTypesInjectors to receive E from the bus.
func Topic[E any](topic string, opts ...TopicOption) TopicInjector {
	return buspkg.Topic[E](topic, opts...)
}

// NewBusPublisher publishes E to topic through bus.
func NewBusPublisher[E any](bus *Bus, topic string, opts ...TopicOption) *EventPublisher[E] {
	return buspkg.NewPublisher[E](bus, topic, opts...)
}

// BusTransport resolves the bus transport for E, for publishers built with
// NewEventPublisher.
func BusTransport[E any](bus *Bus, topic string, opts ...TopicOption) TransportFactory[E, Unit] {
	return buspkg.Transport[E](bus, topic, opts...)
}

// NewPublisherTransport publishes E to topic on any watermill publisher.
func NewPublisherTransport[E any](publisher message.Publisher, topic string, codec Codec, opts ...TopicOption) (DispatchTransport[E, Unit], error) {
	t, err := buspkg.NewPublisherTransport[E](publisher, topic, codec, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}
