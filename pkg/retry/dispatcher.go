package retry

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/delivery-platform/messaging/pkg/envelope"
	"github.com/delivery-platform/messaging/pkg/rabbitmq"
)

// Dispatcher is the sole consumer of the shared retry-dispatch queue. Every
// delay queue dead-letters into it once the backoff elapses; the dispatcher
// re-injects each message into its original queue so the handler gets
// another attempt.
type Dispatcher struct {
	ch     rabbitmq.Channel
	logger *zap.Logger
}

// DispatcherOption configures a Dispatcher instance.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher over an open channel.
func NewDispatcher(ch rabbitmq.Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ch:     ch,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run consumes the retry-dispatch queue until the context is canceled or the
// channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.ch.Consume(
		rabbitmq.RetryQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume retry queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			d.dispatch(ctx, msg)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg amqp.Delivery) {
	env, err := envelope.Unmarshal(msg.Body)
	if err != nil || env.Meta == nil || env.Meta.OriginalQueue == "" {
		// Nothing tells us where this message came from; redelivering it to
		// the retry queue would loop forever. Drop it.
		d.logger.Error("retry message has no origin queue, dropping",
			zap.Error(err))

		if err := msg.Ack(false); err != nil {
			d.logger.Error("failed to ack dropped retry message", zap.Error(err))
		}

		return
	}

	err = d.ch.PublishWithContext(
		ctx,
		rabbitmq.DefaultExchange,
		env.Meta.OriginalQueue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg.Body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		d.logger.Error("failed to redeliver message to original queue",
			zap.String("queue", env.Meta.OriginalQueue),
			zap.Error(err))

		if err := msg.Nack(false, true); err != nil {
			d.logger.Error("failed to nack retry message", zap.Error(err))
		}

		return
	}

	if err := msg.Ack(false); err != nil {
		d.logger.Error("failed to ack dispatched retry message", zap.Error(err))
	}
}
