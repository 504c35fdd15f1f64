package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Relay turns a committed outbox record into an actual broker publish.
//
// It makes a single attempt: publish, then flip the record's sent flag. Any
// failure is logged and abandoned rather than retried inline; recovery is the
// Sweeper's job. This keeps the relay cheap on the hot path. The sent flip is
// best-effort deduplication only, so publishing the same record again later
// must be tolerable for consumers.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

// RelayOption configures a Relay instance.
type RelayOption func(*Relay)

// WithRelayLogger sets the logger for publish and mark-sent failures.
func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRelay creates a Relay publishing through the given publisher and
// flipping sent flags on the given store.
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Relay publishes the record's envelope and marks the record sent. The
// returned error is informational; callers on the write path must not
// surface it, since the business transaction has already committed.
func (r *Relay) Relay(ctx context.Context, rec Record) error {
	if err := r.publisher.Publish(ctx, rec.Exchange, rec.RoutingKey, rec.Envelope()); err != nil {
		r.logger.Warn("failed to publish outbox record",
			zap.String("record_id", rec.ID.String()),
			zap.String("exchange", rec.Exchange),
			zap.Error(err))

		return fmt.Errorf("failed to publish outbox record: %w", err)
	}

	if err := r.store.MarkSent(ctx, rec.ID); err != nil {
		r.logger.Warn("failed to mark outbox record as sent",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err))

		return fmt.Errorf("failed to mark outbox record as sent: %w", err)
	}

	return nil
}
