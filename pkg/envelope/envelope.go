// Package envelope defines the wire format shared by publishers and consumers.
//
// Every message on the broker is a JSON serialized Envelope. The payload is
// opaque to the messaging layer; the optional aggregate stamp lets consumers
// detect stale deliveries, and the optional retry metadata is attached by the
// retry router on redelivered messages only.
package envelope

import "encoding/json"

// Envelope is the message body published to the broker.
type Envelope struct {
	// Payload contains the serialized business event, typically JSON.
	Payload json.RawMessage `json:"payload"`

	// Aggregate is the per-entity version stamp. Omitted when the event is
	// not tied to a versioned entity.
	Aggregate *Aggregate `json:"aggregate,omitempty"`

	// Meta carries retry bookkeeping. It is absent on first delivery and
	// set by the retry router from the first failure onwards.
	Meta *Meta `json:"meta,omitempty"`
}

// Aggregate identifies the entity an event belongs to and its monotonic
// version within that entity's event sequence.
type Aggregate struct {
	EntityID string `json:"entityId"`
	Version  int64  `json:"version"`
}

// Meta is the retry bookkeeping attached to redelivered messages.
type Meta struct {
	// OriginalQueue is the queue the message was first consumed from.
	// The retry dispatcher re-injects the message there.
	OriginalQueue string `json:"originalQueue"`

	// MaxRetries is the retry budget fixed at the first failure.
	MaxRetries int `json:"maxRetries"`

	// RetryCount is the number of failed deliveries so far.
	RetryCount int `json:"retryCount"`

	// BaseDelay is the backoff base in milliseconds.
	BaseDelay int64 `json:"baseDelay"`
}

// Marshal serializes the envelope to its wire representation.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire representation into an Envelope.
func Unmarshal(body []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(body, &e)
	return e, err
}
