package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/delivery-platform/messaging/internal/delay"
	"github.com/delivery-platform/messaging/pkg/envelope"
	"github.com/delivery-platform/messaging/pkg/rabbitmq"
)

// Router decides what happens to a message whose handler failed: another
// delayed delivery, or the dead-letter sink once the retry budget is spent.
//
// The failing delivery is acknowledged only after the message was
// successfully handed off to the delay or dead-letter path. If the handoff
// itself fails, the delivery is nacked back to the queue, preferring a
// duplicate delivery over a lost message.
type Router struct {
	ch      rabbitmq.Channel
	service string

	baseDelay  time.Duration
	maxRetries int
	ceiling    time.Duration
	fixed      time.Duration
	logger     *zap.Logger
}

// RouterOption configures a Router instance.
type RouterOption func(*Router)

// WithBaseDelay sets the backoff base applied to messages failing for the
// first time. Default is 1 second.
func WithBaseDelay(d time.Duration) RouterOption {
	return func(r *Router) {
		r.baseDelay = d
	}
}

// WithMaxRetries sets the retry budget for messages failing for the first
// time. Default is 5.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) {
		r.maxRetries = n
	}
}

// WithDelayCeiling caps the computed backoff delay. By default the delay
// grows unbounded with the retry count.
func WithDelayCeiling(d time.Duration) RouterOption {
	return func(r *Router) {
		r.ceiling = d
	}
}

// WithFixedDelay makes every redelivery wait the same constant delay instead
// of backing off exponentially. The ceiling does not apply.
func WithFixedDelay(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.fixed = d
		}
	}
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a Router for a service. The service name determines the
// dead-letter sink.
func NewRouter(ch rabbitmq.Channel, service string, opts ...RouterOption) *Router {
	r := &Router{
		ch:         ch,
		service:    service,
		baseDelay:  time.Second,
		maxRetries: 5,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Route handles a failed delivery from the given queue. It parses the retry
// metadata (initializing it on the first failure), then either parks the
// message on a delay queue or dead-letters it, and finally acknowledges the
// original delivery. The returned error reports a failed handoff, after
// which the delivery has been nacked for redelivery.
func (r *Router) Route(ctx context.Context, queue string, d amqp.Delivery, cause error) error {
	r.logger.Warn("handler failed, routing message for retry",
		zap.String("queue", queue),
		zap.Error(cause))

	env, err := envelope.Unmarshal(d.Body)
	if err != nil {
		// Without a parseable envelope there is no retry bookkeeping to
		// track; retrying cannot help. Dead-letter the raw body as is.
		r.logger.Error("message body is not a valid envelope, dead-lettering",
			zap.String("queue", queue),
			zap.Error(err))

		if err := r.publish(ctx, rabbitmq.DLXName(r.service), queue, d.Body); err != nil {
			return r.nack(d, fmt.Errorf("failed to dead-letter unparseable message: %w", err))
		}

		return r.ack(d)
	}

	if env.Meta == nil {
		env.Meta = &envelope.Meta{
			OriginalQueue: queue,
			MaxRetries:    r.maxRetries,
			RetryCount:    1,
			BaseDelay:     r.baseDelay.Milliseconds(),
		}
	} else {
		env.Meta.RetryCount++
		if env.Meta.BaseDelay <= 0 {
			// A zero base would redeliver instantly and burn the budget; a
			// negative one produces a TTL the broker rejects.
			env.Meta.BaseDelay = r.baseDelay.Milliseconds()
		}
	}

	body, err := env.Marshal()
	if err != nil {
		return r.nack(d, fmt.Errorf("failed to serialize envelope: %w", err))
	}

	if env.Meta.RetryCount > env.Meta.MaxRetries {
		r.logger.Warn("message reached max retries, moving to dead-letter sink",
			zap.String("queue", env.Meta.OriginalQueue),
			zap.Int("retry_count", env.Meta.RetryCount))

		if err := r.publish(ctx, rabbitmq.DLXName(r.service), queue, body); err != nil {
			return r.nack(d, fmt.Errorf("failed to dead-letter message: %w", err))
		}

		return r.ack(d)
	}

	ttl := r.delayFor(env.Meta)
	delayedQueue := fmt.Sprintf("_delayed.%d", ttl.Milliseconds())

	_, err = r.ch.QueueDeclare(
		delayedQueue,
		false, // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    rabbitmq.DefaultExchange,
			"x-dead-letter-routing-key": rabbitmq.RetryQueue,
			"x-message-ttl":             ttl.Milliseconds(),
		},
	)
	if err != nil {
		return r.nack(d, fmt.Errorf("failed to declare delay queue %q: %w", delayedQueue, err))
	}

	if err := r.publish(ctx, rabbitmq.DefaultExchange, delayedQueue, body); err != nil {
		return r.nack(d, fmt.Errorf("failed to park message on delay queue %q: %w", delayedQueue, err))
	}

	return r.ack(d)
}

// delayFor computes baseDelay * 2^retryCount, capped at the configured
// ceiling when one is set. A fixed schedule overrides both.
func (r *Router) delayFor(meta *envelope.Meta) time.Duration {
	if r.fixed > 0 {
		return delay.Fixed(r.fixed)(meta.RetryCount)
	}

	ceiling := r.ceiling
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}

	base := time.Duration(meta.BaseDelay) * time.Millisecond

	return delay.Exponential(base, ceiling)(meta.RetryCount)
}

func (r *Router) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return r.ch.PublishWithContext(
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
}

func (r *Router) ack(d amqp.Delivery) error {
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack rerouted delivery: %w", err)
	}
	return nil
}

func (r *Router) nack(d amqp.Delivery, cause error) error {
	r.logger.Error("failed to reroute message, requeueing original delivery", zap.Error(cause))

	if err := d.Nack(false, true); err != nil {
		r.logger.Error("failed to nack delivery", zap.Error(err))
	}

	return cause
}
