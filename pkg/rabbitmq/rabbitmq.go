// Package rabbitmq provides the AMQP transport used by the outbox relay,
// the sweeper and the consumer retry pipeline: an envelope publisher and the
// topology assertions for the retry-dispatch queue and the per-service
// dead-letter sink.
package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the AMQP default (nameless, direct) exchange,
	// which routes by queue name.
	DefaultExchange = ""

	// RetryQueue is the shared retry-dispatch queue. Every delay holding
	// queue dead-letters into it, and its sole consumer re-injects messages
	// into their original queue.
	RetryQueue = "_retry"
)

// Channel is the subset of amqp.Channel operations this module uses. It
// exists so fakes can stand in for a live broker in tests.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// DLXName returns the dead-letter exchange name for a service. One sink per
// service, named deterministically.
func DLXName(service string) string {
	return "dead-letter." + service
}

// AssertRetryTopology declares the durable pieces of the retry pipeline for
// a service: the dead-letter topic exchange, the queue of the same name
// accumulating every dead-lettered message, and the shared retry-dispatch
// queue. Call it once at startup; declarations are idempotent.
func AssertRetryTopology(ch Channel, service string) error {
	dlx := DLXName(service)

	if err := ch.ExchangeDeclare(
		dlx,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		dlx,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if err := ch.QueueBind(dlx, "#", dlx, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		RetryQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	return nil
}
