package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/relay/internal/runtime/broker"
	"github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/internal/runtime/correlation"
	"github.com/drblury/relay/internal/runtime/dispatch"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/eventing"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/metadata"
	"github.com/drblury/relay/internal/runtime/pipeline"
	"github.com/drblury/relay/internal/runtime/services"
	"github.com/drblury/relay/internal/runtime/transport"
)

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type delivery struct {
	evt         orderShipped
	operationID string
	traceID     string
	tenant      string
	transport   transport.Type
}

func recordingRegistration(t *testing.T, out chan<- delivery, opts ...eventing.Option) eventing.Registration {
	t.Helper()

	var mu sync.Mutex
	var tt transport.Type
	opts = append(opts, eventing.WithHandlerPipeline[orderShipped](func(p *pipeline.Pipeline[orderShipped, pipeline.Unit]) error {
		mu.Lock()
		tt = p.TransportType()
		mu.Unlock()
		return nil
	}))

	reg, err := eventing.NewDelegateRegistration(func(ctx context.Context, evt orderShipped) error {
		cc, ok := correlation.FromContext(ctx)
		if !assert.True(t, ok) {
			return errors.New("no correlation context")
		}
		tenant, _ := cc.DownstreamData().String("tenant")
		mu.Lock()
		d := delivery{evt: evt, operationID: cc.OperationID(), traceID: cc.TraceID(), tenant: tenant, transport: tt}
		mu.Unlock()
		out <- d
		return nil
	}, opts...)
	require.NoError(t, err)
	return reg
}

func newTestBus(t *testing.T, conf *config.Config, deps Dependencies) *Bus {
	t.Helper()
	if conf.PubSubSystem == "" {
		conf.PubSubSystem = broker.Channel
	}
	deps.DisableSignalsHandler = true
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	b, err := New(context.Background(), conf, logging.NopLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = b.Start(ctx) }()
	select {
	case <-b.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not start")
	}
}

func TestPublisherTransportValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherTransport[orderShipped](nil, "orders", nil)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	_, err = NewPublisherTransport[orderShipped](&recordingPublisher{}, "", nil)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)

	_, err = Transport[orderShipped](nil, "orders")(context.Background(), dispatch.TransportBuilder{})
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestPublisherTransportWritesHeaders(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	tr, err := NewPublisherTransport[orderShipped](pub, "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, Name, tr.Name())
	assert.Equal(t, "orders", tr.Topic())

	cc := correlation.New("trace-1")
	cc.SetOperationID("op-1")
	cc.DownstreamData().Set("tenant", "acme", correlation.ScopeAcrossTransports)
	cc.DownstreamData().Set("local", "secret", correlation.ScopeInProcess)

	_, err = tr.Send(context.Background(), orderShipped{ID: "o-1"}, services.Empty(), cc)
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "orders", pub.topics[0])
	msg := pub.messages[0]
	assert.JSONEq(t, `{"id":"o-1"}`, string(msg.Payload))

	md := metadata.FromWatermill(msg.Metadata)
	assert.Equal(t, "eventbus.orderShipped", md.EventType())
	assert.Equal(t, "op-1", md.OperationID())
	assert.Equal(t, "trace-1", md.TraceID())
	assert.Equal(t, ContentTypeJSON, md.ContentType())

	restored := correlation.New("")
	require.NoError(t, restored.Decode(md.Context()))
	tenant, ok := restored.DownstreamData().String("tenant")
	assert.True(t, ok)
	assert.Equal(t, "acme", tenant)
	_, ok = restored.DownstreamData().Get("local")
	assert.False(t, ok, "in-process entries must not leave the process")
}

func TestPublisherTransportWithoutContextData(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	tr, err := NewPublisherTransport[orderShipped](pub, "orders", nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), orderShipped{ID: "o-1"}, nil, nil)
	require.NoError(t, err)
	_, ok := pub.messages[0].Metadata[metadata.KeyContext]
	assert.False(t, ok)
	assert.NotEmpty(t, pub.messages[0].Metadata.Get(metadata.KeyTraceID))
}

func TestPublisherTransportPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	tr, err := NewPublisherTransport[orderShipped](&recordingPublisher{err: boom}, "orders", nil)
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), orderShipped{}, nil, correlation.New("t"))
	assert.ErrorIs(t, err, boom)

	protoOnly, err := NewPublisherTransport[orderShipped](&recordingPublisher{}, "orders", ProtoCodec{})
	require.NoError(t, err)
	_, err = protoOnly.Send(context.Background(), orderShipped{}, nil, correlation.New("t"))
	assert.ErrorIs(t, err, errspkg.ErrUnexpectedPayload)
}

func receiverBus(t *testing.T, regs ...eventing.Registration) (*Bus, map[string]map[string]*route) {
	t.Helper()
	b := &Bus{
		logger:   logging.NopLogger(),
		codec:    JSONCodec{},
		strategy: eventing.DefaultStrategy(),
		services: services.Empty(),
		registry: eventing.NewRegistry(regs...),
	}
	return b, buildRoutes(b.registry)
}

func incoming(payload string, md metadata.Metadata) *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	metadata.Apply(msg, md)
	return msg
}

func TestReceiveRestoresCorrelation(t *testing.T) {
	t.Parallel()

	out := make(chan delivery, 1)
	b, routes := receiverBus(t, recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))))

	cc := correlation.New("trace-1")
	cc.DownstreamData().Set("tenant", "acme", correlation.ScopeAcrossTransports)
	msg := incoming(`{"id":"o-1"}`, metadata.New(
		metadata.KeyEventType, "eventbus.orderShipped",
		metadata.KeyOperationID, "op-1",
		metadata.KeyTraceID, "trace-1",
		metadata.KeyContext, cc.EncodeDownstream(),
	))

	require.NoError(t, b.receive("orders", routes["orders"])(msg))

	got := <-out
	assert.Equal(t, orderShipped{ID: "o-1"}, got.evt)
	assert.Equal(t, "op-1", got.operationID)
	assert.Equal(t, "trace-1", got.traceID)
	assert.Equal(t, "acme", got.tenant)
	assert.Equal(t, transport.NewType(Name, transport.RoleReceiver), got.transport)
}

func TestReceiveSkipsUnknownEventTypes(t *testing.T) {
	t.Parallel()

	out := make(chan delivery, 1)
	b, routes := receiverBus(t, recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))))

	msg := incoming(`{}`, metadata.New(metadata.KeyEventType, "orders.Cancelled"))
	require.NoError(t, b.receive("orders", routes["orders"])(msg))
	assert.Empty(t, out)
}

func TestReceiveRejectsUnprocessableMessages(t *testing.T) {
	t.Parallel()

	out := make(chan delivery, 1)
	b, routes := receiverBus(t, recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))))
	handle := b.receive("orders", routes["orders"])

	err := handle(incoming(`{"id":`, metadata.New(metadata.KeyEventType, "eventbus.orderShipped")))
	assert.True(t, IsUnprocessable(err), "got %v", err)

	err = handle(incoming(`{"id":"o-1"}`, metadata.New(
		metadata.KeyEventType, "eventbus.orderShipped",
		metadata.KeyContext, "garbage",
	)))
	assert.True(t, IsUnprocessable(err), "got %v", err)
	assert.ErrorIs(t, err, errspkg.ErrInvalidContextData)
	assert.Empty(t, out)
}

func TestReceivePropagatesHandlerErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	reg, err := eventing.NewDelegateRegistration(func(context.Context, orderShipped) error { return boom },
		eventing.WithTypesInjectors(Topic[orderShipped]("orders")))
	require.NoError(t, err)
	b, routes := receiverBus(t, reg)

	err = b.receive("orders", routes["orders"])(incoming(`{"id":"o-1"}`, metadata.New(metadata.KeyEventType, "eventbus.orderShipped")))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsUnprocessable(err))
}

func TestBuildRoutesGroupsByTopicAndType(t *testing.T) {
	t.Parallel()

	out := make(chan delivery, 4)
	_, routes := receiverBus(t,
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))),
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))),
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("audit"))),
		recordingRegistration(t, out),
	)

	require.Len(t, routes, 2)
	assert.Len(t, routes["orders"]["eventbus.orderShipped"].invokers, 2)
	assert.Len(t, routes["audit"]["eventbus.orderShipped"].invokers, 1)
}

func TestBusDeliversAcrossBroker(t *testing.T) {
	out := make(chan delivery, 2)
	registry := eventing.NewRegistry(
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders")), eventing.WithoutInProcess()),
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders")), eventing.WithoutInProcess()),
	)
	b := newTestBus(t, &config.Config{}, Dependencies{Registry: registry})
	assert.Equal(t, []string{"orders"}, b.Topics())
	assert.Same(t, registry, b.Registry())
	startBus(t, b)

	var publishedOp string
	publisher := NewPublisher[orderShipped](b, "orders").
		WithPipeline(func(p *pipeline.Pipeline[orderShipped, pipeline.Unit]) error {
			publishedOp = p.Correlation().OperationID()
			return nil
		})

	ctx, cc := correlation.GetOrCreate(context.Background())
	cc.DownstreamData().Set("tenant", "acme", correlation.ScopeAcrossTransports)
	require.NoError(t, publisher.Publish(ctx, orderShipped{ID: "o-1"}))

	for range 2 {
		select {
		case got := <-out:
			assert.Equal(t, "o-1", got.evt.ID)
			assert.Equal(t, publishedOp, got.operationID)
			assert.Equal(t, cc.TraceID(), got.traceID)
			assert.Equal(t, "acme", got.tenant)
			assert.Equal(t, transport.RoleReceiver, got.transport.Role)
			assert.Equal(t, Name, got.transport.Name)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestBusWithAllDefaultMiddlewares(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	out := make(chan delivery, 1)
	registry := eventing.NewRegistry(
		recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders"))),
	)
	conf := &config.Config{
		MetricsEnabled: true,
		TracingEnabled: true,
		PoisonQueue:    "orders_poison",
	}
	b := newTestBus(t, conf, Dependencies{Registry: registry, TracerProvider: tp})
	startBus(t, b)

	require.NoError(t, NewPublisher[orderShipped](b, "orders").Publish(context.Background(), orderShipped{ID: "o-9"}))

	select {
	case got := <-out:
		assert.Equal(t, "o-9", got.evt.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	assert.Eventually(t, func() bool {
		for _, span := range recorder.Ended() {
			if span.Name() == "relay receive orders" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = New(context.Background(), &config.Config{PubSubSystem: "pigeon"}, nil, Dependencies{})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.Config{PubSubSystem: broker.Channel, BroadcastStrategy: "random"}, nil, Dependencies{})
	assert.Error(t, err)
}

func TestNewClosesBrokerWhenMiddlewareFails(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	closed := false
	factory := broker.NewRegistry()
	factory.Register("fake", func(context.Context, *config.Config, watermill.LoggerAdapter) (broker.Broker, error) {
		return broker.Broker{Publisher: closingPublisher{pub, &closed}}, nil
	}, broker.Capabilities{})

	_, err := New(context.Background(), &config.Config{PubSubSystem: "fake"}, nil, Dependencies{
		BrokerFactory:                   factory,
		DisableDefaultRouterMiddlewares: true,
		DisableSignalsHandler:           true,
		RouterMiddlewares:               []MiddlewareRegistration{{Name: "broken"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, closed)
}

func TestNewRequiresSubscriberForHandlers(t *testing.T) {
	t.Parallel()

	factory := broker.NewRegistry()
	factory.Register("publish-only", func(context.Context, *config.Config, watermill.LoggerAdapter) (broker.Broker, error) {
		return broker.Broker{Publisher: &recordingPublisher{}}, nil
	}, broker.Capabilities{})

	out := make(chan delivery, 1)
	_, err := New(context.Background(), &config.Config{PubSubSystem: "publish-only"}, nil, Dependencies{
		Registry:              eventing.NewRegistry(recordingRegistration(t, out, eventing.WithTypesInjectors(Topic[orderShipped]("orders")))),
		BrokerFactory:         factory,
		DisableSignalsHandler: true,
	})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBus(t, &config.Config{}, Dependencies{})
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

type closingPublisher struct {
	*recordingPublisher
	closed *bool
}

func (p closingPublisher) Close() error {
	*p.closed = true
	return nil
}
