// Package eventbus carries event notifications between processes over a
// watermill broker. The publishing side is a dispatch transport; the
// receiving side is a watermill router that restores the correlation carried
// by each message and broadcasts it to the handlers registered for the bus
// capability.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/broker"
	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/eventing"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/middleware"
	"github.com/drblury/relay/internal/runtime/services"
)

const tracerName = "github.com/drblury/relay/eventbus"

var routerRun = func(ctx context.Context, router *message.Router) error {
	return router.Run(ctx)
}

// Dependencies holds the optional collaborators of a Bus. Nil fields fall
// back to defaults.
type Dependencies struct {
	// Registry supplies the handlers for the receiving side.
	Registry *eventing.Registry
	Services services.Provider
	// Strategy defaults to the one selected by the config.
	Strategy eventing.Strategy
	// Codec defaults to JSONCodec.
	Codec         Codec
	BrokerFactory broker.Factory
	// RouterMiddlewares are registered after the default chain.
	RouterMiddlewares               []MiddlewareRegistration
	DisableDefaultRouterMiddlewares bool
	// DisableSignalsHandler keeps the router from closing on SIGINT/SIGTERM.
	DisableSignalsHandler bool
	TracerProvider        trace.TracerProvider
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Bus wires a broker, a watermill router and the handler registry.
type Bus struct {
	conf     *config.Config
	logger   logging.ServiceLogger
	wmLogger watermill.LoggerAdapter

	registry *eventing.Registry
	services services.Provider
	strategy eventing.Strategy
	codec    Codec

	broker     broker.Broker
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	tracerProvider trace.TracerProvider
	registerer     prometheus.Registerer
	collectors     *middleware.Collectors

	topics []string
	closed atomic.Bool
}

// New builds the bus for conf. Handlers registered in deps.Registry with a
// Topic injector are subscribed when the bus starts.
func New(ctx context.Context, conf *config.Config, logger logging.ServiceLogger, deps Dependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	logger = logging.OrNop(logger)
	logger.Info("Creating event bus", logging.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	b := &Bus{
		conf:           conf,
		logger:         logger,
		wmLogger:       logging.NewWatermillAdapter(logger),
		registry:       deps.Registry,
		services:       services.OrEmpty(deps.Services),
		strategy:       deps.Strategy,
		codec:          deps.Codec,
		tracerProvider: deps.TracerProvider,
		registerer:     deps.MetricsRegisterer,
	}
	if b.registry == nil {
		b.registry = eventing.NewRegistry()
	}
	if b.codec == nil {
		b.codec = JSONCodec{}
	}
	if b.tracerProvider == nil {
		b.tracerProvider = otel.GetTracerProvider()
	}
	if b.registerer == nil {
		b.registerer = prometheus.DefaultRegisterer
	}
	if b.strategy == nil {
		strategy, err := eventing.StrategyFromConfig(conf)
		if err != nil {
			return nil, err
		}
		b.strategy = strategy
	}
	if conf.MetricsEnabled {
		b.collectors = middleware.NewCollectors(conf.Namespace())
		if err := b.collectors.Register(b.registerer); err != nil {
			return nil, fmt.Errorf("register dispatch metrics: %w", err)
		}
	}

	factory := deps.BrokerFactory
	if factory == nil {
		factory = broker.DefaultFactory()
	}
	brk, err := factory.Build(ctx, conf, b.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s broker: %w", conf.PubSubSystem, err)
	}
	b.broker = brk
	b.publisher = brk.Publisher
	b.subscriber = brk.Subscriber

	if err := b.setupRouter(deps); err != nil {
		return nil, errors.Join(err, brk.Close())
	}
	return b, nil
}

func (b *Bus) setupRouter(deps Dependencies) error {
	router, err := message.NewRouter(message.RouterConfig{}, b.wmLogger)
	if err != nil {
		return err
	}
	b.router = router
	if !deps.DisableSignalsHandler {
		router.AddPlugin(plugin.SignalsHandler)
	}

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultRouterMiddlewares {
		registrations = append(registrations, DefaultMiddlewares()...)
	}
	registrations = append(registrations, deps.RouterMiddlewares...)
	for _, reg := range registrations {
		if err := b.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}

	routes := buildRoutes(b.registry)
	if len(routes) > 0 && b.subscriber == nil {
		return errors.New("subscriber is required to receive events")
	}
	for topic, byType := range routes {
		router.AddNoPublisherHandler("relay_"+topic, topic, b.subscriber, b.receive(topic, byType))
		b.topics = append(b.topics, topic)
	}
	slices.Sort(b.topics)
	return nil
}

// Start runs the router until ctx is cancelled or the bus is closed.
func (b *Bus) Start(ctx context.Context) error {
	b.logger.Info("Starting event bus", logging.LogFields{
		"pubsub_system": b.conf.PubSubSystem,
		"topics":        b.topics,
	})
	return routerRun(ctx, b.router)
}

// Running is closed once every subscription is active.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Topics returns the subscribed topics, sorted.
func (b *Bus) Topics() []string {
	return slices.Clone(b.topics)
}

// Publisher returns the underlying watermill publisher.
func (b *Bus) Publisher() message.Publisher { return b.publisher }

// Registry returns the handler registry of the receiving side.
func (b *Bus) Registry() *eventing.Registry { return b.registry }

// Close stops the router and closes the broker. Later calls return nil.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(b.router.Close(), b.broker.Close())
}
