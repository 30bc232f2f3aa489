package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/metadata"
)

type capturingLogger struct {
	mu     sync.Mutex
	fields []logging.LogFields
}

func (l *capturingLogger) With(logging.LogFields) logging.ServiceLogger { return l }
func (l *capturingLogger) Info(string, logging.LogFields)               {}
func (l *capturingLogger) Error(string, error, logging.LogFields)       {}
func (l *capturingLogger) Trace(string, logging.LogFields)              {}

func (l *capturingLogger) Debug(_ string, fields logging.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, fields)
}

func middlewareBus(conf *config.Config) *Bus {
	return &Bus{
		conf:     conf,
		logger:   logging.NopLogger(),
		wmLogger: watermill.NopLogger{},
	}
}

func build(t *testing.T, b *Bus, reg MiddlewareRegistration) message.HandlerMiddleware {
	t.Helper()
	if reg.Middleware != nil {
		return reg.Middleware
	}
	mw, err := reg.Builder(b)
	require.NoError(t, err)
	return mw
}

func TestDefaultMiddlewareOrder(t *testing.T) {
	t.Parallel()

	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"correlation_id", "log_messages", "tracer", "metrics", "poison_queue", "retry", "recoverer"}, names)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	mw := build(t, middlewareBus(&config.Config{}), CorrelationIDMiddleware())
	var seen string
	handler := mw(func(msg *message.Message) ([]*message.Message, error) {
		seen = msg.Metadata.Get(metadata.KeyCorrelationID)
		return nil, nil
	})

	_, err := handler(message.NewMessage("m-1", nil))
	require.NoError(t, err)
	assert.Len(t, seen, 26)

	msg := message.NewMessage("m-2", nil)
	msg.Metadata.Set(metadata.KeyCorrelationID, "existing")
	_, err = handler(msg)
	require.NoError(t, err)
	assert.Equal(t, "existing", seen)
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	for _, logPayloads := range []bool{false, true} {
		logger := &capturingLogger{}
		mw := build(t, middlewareBus(&config.Config{LogPayloads: logPayloads}), LogMessagesMiddleware(logger))
		_, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, nil })(message.NewMessage("m-1", []byte(`{"id":"o-1"}`)))
		require.NoError(t, err)

		require.Len(t, logger.fields, 1)
		assert.Equal(t, "m-1", logger.fields[0]["message_uuid"])
		_, hasPayload := logger.fields[0]["payload"]
		assert.Equal(t, logPayloads, hasPayload)
	}
}

func TestOptionalMiddlewaresSkipWhenDisabled(t *testing.T) {
	t.Parallel()

	b := middlewareBus(&config.Config{})
	for _, reg := range []MiddlewareRegistration{TracerMiddleware(), MetricsMiddleware(), PoisonQueueMiddleware(nil)} {
		mw, err := reg.Builder(b)
		require.NoError(t, err, reg.Name)
		assert.Nil(t, mw, reg.Name)
	}
}

func TestPoisonQueueRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := PoisonQueueMiddleware(nil).Builder(middlewareBus(&config.Config{PoisonQueue: "poison"}))
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestPoisonQueueRoutesUnprocessableMessages(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	b := middlewareBus(&config.Config{PoisonQueue: "poison"})
	b.publisher = pub
	mw := build(t, b, PoisonQueueMiddleware(nil))

	_, err := mw(func(msg *message.Message) ([]*message.Message, error) {
		return nil, &UnprocessableError{MessageUUID: msg.UUID, Err: errors.New("bad json")}
	})(message.NewMessage("m-1", []byte("{")))
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "poison", pub.topics[0])

	boom := errors.New("transient")
	_, err = mw(func(*message.Message) ([]*message.Message, error) { return nil, boom })(message.NewMessage("m-2", nil))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, pub.messages, 1)
}

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	conf := &config.Config{RetryMaxRetries: 2, RetryInitialInterval: time.Millisecond, RetryMaxInterval: time.Millisecond}
	mw := build(t, middlewareBus(conf), RetryMiddleware(RetryConfig{}))

	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"transient errors are retried", errors.New("transient"), 3},
		{"unprocessable is not retried", &UnprocessableError{Err: errors.New("bad")}, 1},
		{"cancellation is not retried", context.Canceled, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := mw(func(*message.Message) ([]*message.Message, error) {
				calls++
				return nil, tt.err
			})(message.NewMessage("m-1", nil))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)

	custom := RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}.withDefaults()
	assert.Equal(t, 1, custom.MaxRetries)
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()

	mw := build(t, middlewareBus(&config.Config{}), RecovererMiddleware())
	_, err := mw(func(*message.Message) ([]*message.Message, error) { panic("boom") })(message.NewMessage("m-1", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegisterMiddlewareErrors(t *testing.T) {
	t.Parallel()

	assert.Error(t, middlewareBus(&config.Config{}).RegisterMiddleware(CorrelationIDMiddleware()))

	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	b := middlewareBus(&config.Config{})
	b.router = router

	assert.Error(t, b.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}))

	boom := errors.New("boom")
	assert.ErrorIs(t, b.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(*Bus) (message.HandlerMiddleware, error) { return nil, boom },
	}), boom)
	assert.NoError(t, b.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(*Bus) (message.HandlerMiddleware, error) { return nil, nil },
	}))
}
