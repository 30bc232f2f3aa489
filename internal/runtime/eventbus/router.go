package eventbus

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/ids"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a router middleware for bus. A nil middleware
// with a nil error skips the registration.
type MiddlewareBuilder func(bus *Bus) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes one router middleware. Exactly one of
// Middleware and Builder is used, Middleware first.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryConfig tunes RetryMiddleware. Zero values fall back to defaults.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the router chain registered by New unless
// disabled. The recoverer sits innermost so panics become retryable errors.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RetryMiddleware(RetryConfig{}),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware sets a correlation_id header on messages that
// arrive without one.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
					msg.Metadata.Set(metadata.KeyCorrelationID, ids.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware logs every received message at Debug level. The
// payload is included only when the bus config enables payload logging. A
// nil logger uses the bus logger.
func LogMessagesMiddleware(logger logging.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(b *Bus) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			logPayloads := b.conf.LogPayloads
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					fields := logging.LogFields{
						"message_uuid": msg.UUID,
						"metadata":     msg.Metadata,
					}
					if logPayloads {
						fields["payload"] = string(msg.Payload)
					}
					l.Debug("Processing message", fields)
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps message handling in an OpenTelemetry span when
// tracing is enabled.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(b *Bus) (message.HandlerMiddleware, error) {
			if !b.conf.TracingEnabled {
				return nil, nil
			}
			tracer := b.tracerProvider.Tracer(tracerName)
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					ctx, span := tracer.Start(msg.Context(), "relay receive "+message.SubscribeTopicFromCtx(msg.Context()),
						trace.WithSpanKind(trace.SpanKindConsumer),
						trace.WithAttributes(
							attribute.String("messaging.message.id", msg.UUID),
							attribute.String("relay.event_type", msg.Metadata.Get(metadata.KeyEventType)),
							attribute.String("relay.operation_id", msg.Metadata.Get(metadata.KeyOperationID)),
							attribute.String("relay.trace_id", msg.Metadata.Get(metadata.KeyTraceID)),
						),
					)
					defer span.End()
					msg.SetContext(ctx)

					out, err := h(msg)
					if err != nil {
						span.RecordError(err)
						span.SetStatus(codes.Error, err.Error())
					}
					return out, err
				}
			}, nil
		},
	}
}

// MetricsMiddleware records watermill's Prometheus router and handler
// metrics when metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Bus) (message.HandlerMiddleware, error) {
			if !b.conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(b.registerer, b.conf.Namespace(), "bus")
			builder.AddPrometheusRouterMetrics(b.router)
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// PoisonQueueMiddleware publishes messages whose error matches filter to
// the configured poison queue and acknowledges them. A nil filter matches
// unprocessable messages. Without a configured poison queue nothing is
// registered.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(b *Bus) (message.HandlerMiddleware, error) {
			if b.conf.PoisonQueue == "" {
				return nil, nil
			}
			if b.publisher == nil {
				return nil, errspkg.ErrPublisherRequired
			}
			f := filter
			if f == nil {
				f = IsUnprocessable
			}
			return middleware.PoisonQueueWithFilter(b.publisher, b.conf.PoisonQueue, f)
		},
	}
}

// RetryMiddleware retries failed messages with exponential backoff. cfg
// fields left zero are taken from the bus config, then from defaults.
// Unprocessable messages and cancellations are not retried unless RetryIf
// says otherwise.
func RetryMiddleware(cfg RetryConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(b *Bus) (message.HandlerMiddleware, error) {
			c := cfg
			if c.MaxRetries == 0 {
				c.MaxRetries = b.conf.RetryMaxRetries
			}
			if c.InitialInterval == 0 {
				c.InitialInterval = b.conf.RetryInitialInterval
			}
			if c.MaxInterval == 0 {
				c.MaxInterval = b.conf.RetryMaxInterval
			}
			normalized := c.withDefaults()
			retryIf := normalized.RetryIf
			if retryIf == nil {
				retryIf = func(err error) bool {
					return !IsUnprocessable(err) && !errspkg.IsCancellation(err)
				}
			}
			return middleware.Retry{
				MaxRetries:      normalized.MaxRetries,
				InitialInterval: normalized.InitialInterval,
				MaxInterval:     normalized.MaxInterval,
				Multiplier:      2,
				Logger:          b.wmLogger,
				ShouldRetry: func(params middleware.RetryParams) bool {
					return retryIf(params.Err)
				},
			}.Middleware, nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware adds reg to the router. It must be called before Start.
func (b *Bus) RegisterMiddleware(reg MiddlewareRegistration) error {
	if b.router == nil {
		return errors.New("router is not initialised")
	}

	mw := reg.Middleware
	if mw == nil {
		if reg.Builder == nil {
			return errors.New("middleware registration requires Middleware or Builder")
		}
		var err error
		if mw, err = reg.Builder(b); err != nil {
			return err
		}
	}
	if mw == nil {
		return nil
	}

	b.router.AddMiddleware(mw)
	return nil
}
