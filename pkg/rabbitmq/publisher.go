package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

// Publisher publishes envelopes to an AMQP broker. It satisfies the outbox
// Publisher interface used by the relay and the sweeper.
type Publisher struct {
	ch Channel
}

// NewPublisher creates a Publisher over an open channel.
func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Publish sends the envelope to (exchange, routingKey) as a persistent JSON
// message.
func (p *Publisher) Publish(ctx context.Context, exchange string, routingKey string, env envelope.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	err = p.ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %q: %w", exchange, err)
	}

	return nil
}
