package retry

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/delivery-platform/messaging/pkg/envelope"
	"github.com/delivery-platform/messaging/pkg/rabbitmq"
)

// Handler processes one decoded envelope. A non-nil error sends the message
// through the retry router.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Subscriber binds handlers to (exchange, routingKey, queue) triples and
// wraps every handler with the retry router.
type Subscriber struct {
	ch     rabbitmq.Channel
	router *Router
	logger *zap.Logger
}

// SubscriberOption configures a Subscriber instance.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the subscriber's logger.
func WithSubscriberLogger(logger *zap.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubscriber creates a Subscriber consuming on the given channel and
// routing failures through the given router.
func NewSubscriber(ch rabbitmq.Channel, router *Router, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		ch:     ch,
		router: router,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscribe declares the durable topic exchange and queue, binds them with
// the routing key, and consumes the queue on a background goroutine until
// the context is canceled. An empty exchange binds nothing and consumes from
// the queue directly, which is how the retry dispatcher redelivers.
func (s *Subscriber) Subscribe(ctx context.Context, exchange, routingKey, queue string, handler Handler) error {
	if exchange != "" {
		if err := s.ch.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return err
		}
	}

	if _, err := s.ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if exchange != "" {
		if err := s.ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := s.ch.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go s.consume(ctx, queue, deliveries, handler)

	return nil
}

func (s *Subscriber) consume(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			s.handle(ctx, queue, msg, handler)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, queue string, msg amqp.Delivery, handler Handler) {
	env, err := envelope.Unmarshal(msg.Body)
	if err == nil {
		err = handler(ctx, env)
	}

	if err != nil {
		if routeErr := s.router.Route(ctx, queue, msg, err); routeErr != nil {
			s.logger.Error("failed to route failed message",
				zap.String("queue", queue),
				zap.Error(routeErr))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		s.logger.Error("failed to ack processed message",
			zap.String("queue", queue),
			zap.Error(err))
	}
}
