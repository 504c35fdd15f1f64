package outbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

// Tx is the transactional handle passed to business writes and outbox
// operations. Concrete stores expose their native handle on their Tx type
// (sqlstore.Tx embeds the *sql.Tx operations, mongostore.Tx exposes the
// session context), so business writes can run arbitrary queries in the same
// transaction as the outbox insert.
type Tx interface {
	// InsertRecord stores a new outbox record as part of the transaction.
	InsertRecord(ctx context.Context, rec *Record) error

	// LatestVersion returns the highest aggregate version stored for the
	// entity, or 0 when the entity has no versioned records yet.
	LatestVersion(ctx context.Context, entityID string) (int64, error)
}

// Store abstracts the durable outbox storage behind a single transaction
// runner, so the Writer, Relay and Sweeper never depend on a concrete
// backend.
type Store interface {
	// InTx runs work inside one transaction, committing when it returns nil
	// and rolling back every write otherwise.
	InTx(ctx context.Context, work func(ctx context.Context, tx Tx) error) error

	// MarkSent flips the record's sent flag after a confirmed publish.
	// The mutation is idempotent; concurrent attempts are safe.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// Unsent returns up to limit unsent records, oldest first.
	Unsent(ctx context.Context, limit int) ([]Record, error)
}

// Publisher sends an envelope to an external broker.
//
// Publish can be invoked more than once for the same record when the Relay
// and the Sweeper race; consumers must be idempotent.
type Publisher interface {
	Publish(ctx context.Context, exchange string, routingKey string, env envelope.Envelope) error
}

// Locker is a best-effort ownership lock used to keep multiple sweeper
// instances from duplicating a sweep cycle. Duplicates are tolerable under
// at-least-once delivery; the lock only minimizes them.
type Locker interface {
	// TryLock attempts to acquire the lock without blocking.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases the lock if still held by this owner.
	Unlock(ctx context.Context) error
}
