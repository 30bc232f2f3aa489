package eventbus

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestTopicEventTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "eventbus.orderShipped", Topic[orderShipped]("orders").EventType())
	assert.Equal(t, "eventbus.orderShipped", Topic[*orderShipped]("orders").EventType())
	assert.Equal(t, "google.protobuf.StringValue", Topic[*wrapperspb.StringValue]("orders").EventType())
	assert.Equal(t, "orders.shipped.v1", Topic[orderShipped]("orders", WithEventType("orders.shipped.v1")).EventType())
}

func TestTopicInjectorMetadata(t *testing.T) {
	t.Parallel()

	inj := Topic[orderShipped]("orders")
	assert.Equal(t, Capability, inj.Capability())
	assert.Equal(t, "orders", inj.Topic())
	assert.Equal(t, reflect.TypeFor[orderShipped](), inj.PayloadType())
}

func TestTopicDecode(t *testing.T) {
	t.Parallel()

	t.Run("value", func(t *testing.T) {
		evt, err := Topic[orderShipped]("orders").Decode(JSONCodec{}, []byte(`{"id":"o-1","carrier":"dhl"}`))
		require.NoError(t, err)
		assert.Equal(t, orderShipped{ID: "o-1", Carrier: "dhl"}, evt)
	})

	t.Run("pointer", func(t *testing.T) {
		evt, err := Topic[*orderShipped]("orders").Decode(JSONCodec{}, []byte(`{"id":"o-2"}`))
		require.NoError(t, err)
		require.IsType(t, &orderShipped{}, evt)
		assert.Equal(t, "o-2", evt.(*orderShipped).ID)
	})

	t.Run("protobuf", func(t *testing.T) {
		data, err := ProtoCodec{}.Marshal(wrapperspb.String("hello"))
		require.NoError(t, err)
		evt, err := Topic[*wrapperspb.StringValue]("orders").Decode(ProtoCodec{}, data)
		require.NoError(t, err)
		assert.Equal(t, "hello", evt.(*wrapperspb.StringValue).GetValue())
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := Topic[orderShipped]("orders").Decode(JSONCodec{}, []byte(`{"id":`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "eventbus.orderShipped")
	})
}
