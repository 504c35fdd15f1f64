package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

// Record is a stored outbox entry: a committed publish intent.
//
// A record is created once by the Writer, read by the Relay and the Sweeper,
// and mutated exactly once when its sent flag flips after a confirmed
// publish. Records are never deleted; they double as an audit and replay log.
type Record struct {
	// ID is the unique identifier assigned at insert.
	ID uuid.UUID

	// Exchange is the logical topic the event belongs to.
	Exchange string

	// RoutingKey is the optional dispatch key within the exchange.
	RoutingKey string

	// Payload is the serialized business event body, opaque to this package.
	Payload json.RawMessage

	// Aggregate is the per-entity version stamp, nil when the event is not
	// tied to a versioned entity.
	Aggregate *envelope.Aggregate

	// IsSent reports whether the record was published to the broker.
	IsSent bool

	// CreatedAt is the insertion timestamp and the publish-order key.
	CreatedAt time.Time
}

// Envelope derives the wire shape published for this record.
func (r Record) Envelope() envelope.Envelope {
	return envelope.Envelope{
		Payload:   r.Payload,
		Aggregate: r.Aggregate,
	}
}

// Destination names the broker target of an outbox record.
type Destination struct {
	Exchange   string
	RoutingKey string
}
