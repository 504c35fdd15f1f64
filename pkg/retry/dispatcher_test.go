package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

func runDispatcher(t *testing.T, ch *fakeChannel, deliveries ...amqp.Delivery) {
	t.Helper()

	ch.deliveries = make(chan amqp.Delivery, len(deliveries))
	for _, d := range deliveries {
		ch.deliveries <- d
	}
	close(ch.deliveries)

	dispatcher := NewDispatcher(ch)
	require.NoError(t, dispatcher.Run(context.Background()))
}

func TestDispatchRedeliversToOriginalQueue(t *testing.T) {
	ch := &fakeChannel{}
	acker := &fakeAcker{ch: ch}

	body := envelopeBody(t, envelope.Envelope{
		Payload: []byte(`{"id":"u1"}`),
		Meta: &envelope.Meta{
			OriginalQueue: "users.signup",
			MaxRetries:    5,
			RetryCount:    2,
			BaseDelay:     1000,
		},
	})

	runDispatcher(t, ch, delivery(acker, body))

	published := ch.allPublished()
	require.Len(t, published, 1)
	assert.Equal(t, "", published[0].exchange)
	assert.Equal(t, "users.signup", published[0].routingKey)
	assert.Equal(t, body, published[0].msg.Body)
	assert.Equal(t, uint8(amqp.Persistent), published[0].msg.DeliveryMode)

	assert.True(t, acker.isAcked())
}

func TestDispatchDropsMessageWithoutOrigin(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "unparseable body", body: []byte("not json")},
		{name: "missing meta", body: []byte(`{"payload":{}}`)},
		{name: "empty origin queue", body: []byte(`{"payload":{},"meta":{"originalQueue":"","maxRetries":5,"retryCount":1,"baseDelay":1000}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			acker := &fakeAcker{ch: ch}

			runDispatcher(t, ch, delivery(acker, tt.body))

			assert.Empty(t, ch.allPublished())
			assert.True(t, acker.isAcked())
		})
	}
}

func TestDispatchNacksOnPublishFailure(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	acker := &fakeAcker{ch: ch}

	body := envelopeBody(t, envelope.Envelope{
		Payload: []byte(`{}`),
		Meta: &envelope.Meta{
			OriginalQueue: "users.signup",
			MaxRetries:    5,
			RetryCount:    1,
			BaseDelay:     1000,
		},
	})

	runDispatcher(t, ch, delivery(acker, body))

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeued)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	dispatcher := NewDispatcher(ch)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestRunFailsWhenConsumeFails(t *testing.T) {
	ch := &fakeChannel{consumeErr: errors.New("queue not found")}
	dispatcher := NewDispatcher(ch)

	err := dispatcher.Run(context.Background())
	require.ErrorIs(t, err, ch.consumeErr)
}
