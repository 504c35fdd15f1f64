// Package retry implements the consumer-side retry/backoff/dead-letter
// pipeline on top of RabbitMQ, which has no native delay primitive.
//
// When a handler fails, the Router parks the message on a transient holding
// queue whose TTL equals the computed exponential backoff. The holding queue
// dead-letters into the shared "_retry" dispatch queue, whose sole consumer
// (the Dispatcher) re-injects each message into its original queue for
// another attempt. A message that exhausts its retry budget goes to the
// per-service dead-letter sink instead and is never retried automatically.
//
// Each distinct delay value creates its own "_delayed.<ms>" queue. At scale
// this proliferates short-lived queues; that is an accepted trade-off of the
// design, simplicity over queue-count minimization.
//
// State machine per message:
//
//	Delivered -> handler fails -> Delayed(retryCount) -> Redelivered -> ...
//	          -> Acked (success) | DeadLettered (budget exhausted)
//
// The Router cannot distinguish a poison message from a transient failure;
// a deterministically failing message still consumes its full retry budget
// before dead-lettering.
package retry
