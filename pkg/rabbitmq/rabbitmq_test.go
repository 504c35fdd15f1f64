package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

type declaredExchange struct {
	name    string
	kind    string
	durable bool
}

type declaredQueue struct {
	name    string
	durable bool
}

type queueBinding struct {
	queue      string
	routingKey string
	exchange   string
}

type channelPublish struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	exchanges []declaredExchange
	queues    []declaredQueue
	bindings  []queueBinding
	published []channelPublish

	exchangeErr error
	queueErr    error
	bindErr     error
	publishErr  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, channelPublish{exchange: exchange, routingKey: key, msg: msg})
	return nil
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if c.exchangeErr != nil {
		return c.exchangeErr
	}
	c.exchanges = append(c.exchanges, declaredExchange{name: name, kind: kind, durable: durable})
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if c.queueErr != nil {
		return amqp.Queue{}, c.queueErr
	}
	c.queues = append(c.queues, declaredQueue{name: name, durable: durable})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if c.bindErr != nil {
		return c.bindErr
	}
	c.bindings = append(c.bindings, queueBinding{queue: name, routingKey: key, exchange: exchange})
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, nil
}

func TestDLXName(t *testing.T) {
	assert.Equal(t, "dead-letter.users", DLXName("users"))
	assert.Equal(t, "dead-letter.billing", DLXName("billing"))
}

func TestAssertRetryTopology(t *testing.T) {
	ch := &fakeChannel{}

	require.NoError(t, AssertRetryTopology(ch, "users"))

	require.Len(t, ch.exchanges, 1)
	assert.Equal(t, declaredExchange{name: "dead-letter.users", kind: "topic", durable: true}, ch.exchanges[0])

	require.Len(t, ch.queues, 2)
	assert.Equal(t, declaredQueue{name: "dead-letter.users", durable: true}, ch.queues[0])
	assert.Equal(t, declaredQueue{name: "_retry", durable: true}, ch.queues[1])

	require.Len(t, ch.bindings, 1)
	assert.Equal(t, queueBinding{queue: "dead-letter.users", routingKey: "#", exchange: "dead-letter.users"}, ch.bindings[0])
}

func TestAssertRetryTopologyPropagatesErrors(t *testing.T) {
	tests := []struct {
		name string
		ch   *fakeChannel
	}{
		{name: "exchange declare fails", ch: &fakeChannel{exchangeErr: errors.New("access refused")}},
		{name: "queue declare fails", ch: &fakeChannel{queueErr: errors.New("access refused")}},
		{name: "queue bind fails", ch: &fakeChannel{bindErr: errors.New("access refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, AssertRetryTopology(tt.ch, "users"))
		})
	}
}

func TestPublisherPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	publisher := NewPublisher(ch)

	env := envelope.Envelope{
		Payload:   []byte(`{"id":"u1"}`),
		Aggregate: &envelope.Aggregate{EntityID: "u1", Version: 2},
	}

	require.NoError(t, publisher.Publish(context.Background(), "users", "user.created", env))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "users", ch.published[0].exchange)
	assert.Equal(t, "user.created", ch.published[0].routingKey)
	assert.Equal(t, "application/json", ch.published[0].msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), ch.published[0].msg.DeliveryMode)
	assert.JSONEq(t,
		`{"payload":{"id":"u1"},"aggregate":{"entityId":"u1","version":2}}`,
		string(ch.published[0].msg.Body))
}

func TestPublisherPropagatesBrokerError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	publisher := NewPublisher(ch)

	err := publisher.Publish(context.Background(), "users", "", envelope.Envelope{Payload: []byte(`{}`)})
	require.ErrorIs(t, err, ch.publishErr)
}
