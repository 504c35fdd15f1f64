package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delivery-platform/messaging/pkg/envelope"
)

// WriteFunc is the caller-supplied unit of business work. It runs inside the
// transaction that stores the outbox record and may perform any number of
// reads and writes through the transactional handle. Its result becomes the
// event payload unless a transform is configured, and is returned to the
// caller unchanged.
type WriteFunc func(ctx context.Context, tx Tx) (any, error)

// Writer couples business writes with the durable intent to publish an event.
// It is the transactional boundary of the outbox pattern.
type Writer struct {
	store Store
	relay *Relay

	relayTimeout time.Duration
	onRelayDone  func(Record, error)
	logger       *zap.Logger
}

// WriterOption configures a Writer instance.
type WriterOption func(*Writer)

// WithRelay configures the Writer to hand committed records to a Relay for
// an immediate publish attempt. The relay runs on a detached goroutine; its
// outcome is logged and never reaches the caller. Without a relay, records
// wait for the next sweep.
func WithRelay(relay *Relay) WriterOption {
	return func(w *Writer) {
		w.relay = relay
	}
}

// WithRelayTimeout bounds the post-commit relay attempt, so a hung broker
// connection cannot pin goroutines indefinitely. Default is 10 seconds.
func WithRelayTimeout(timeout time.Duration) WriterOption {
	return func(w *Writer) {
		w.relayTimeout = timeout
	}
}

// WithOnRelayDone sets a callback invoked when the detached relay attempt for
// a committed record finishes. Test suites use it to await the relay
// deterministically instead of relying on timing.
func WithOnRelayDone(callback func(Record, error)) WriterOption {
	return func(w *Writer) {
		w.onRelayDone = callback
	}
}

// WithWriterLogger sets the logger used for post-commit relay outcomes.
func WithWriterLogger(logger *zap.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer on top of the given store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:        store,
		relayTimeout: 10 * time.Second,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

type publishConfig struct {
	transformPayload func(result any) (any, error)
	entityIDPath     string
	entityIDFunc     func(result any) string
}

// WithTransformPayload maps the business result to the event body before
// serialization. Without it, the result itself is serialized, or "{}" when
// the result is nil.
func WithTransformPayload(transform func(result any) (any, error)) PublishOption {
	return func(c *publishConfig) {
		c.transformPayload = transform
	}
}

// WithAggregateEntityIDPath stamps the record with an aggregate version,
// resolving the entity id from a dot-separated path into the serialized
// payload (for example "user.id"). The path must resolve to a non-empty
// string or the whole operation fails with a *ValidationError.
func WithAggregateEntityIDPath(path string) PublishOption {
	return func(c *publishConfig) {
		c.entityIDPath = path
	}
}

// WithAggregateEntityID stamps the record with an aggregate version, deriving
// the entity id directly from the business result. An empty id fails the
// whole operation with a *ValidationError.
func WithAggregateEntityID(extract func(result any) string) PublishOption {
	return func(c *publishConfig) {
		c.entityIDFunc = extract
	}
}

// Publish opens one transaction, runs the business writes, inserts the outbox
// record (and aggregate version, when configured) in that same transaction,
// and commits. If any step fails before commit the entire transaction rolls
// back and the error propagates to the caller; no record exists for a
// business effect that did not happen.
//
// After a successful commit the record is handed to the Relay asynchronously.
// The return value is the business result, not the outbox metadata; the
// caller sees success as soon as the transaction commits, whether or not the
// event reached the broker yet.
func (w *Writer) Publish(ctx context.Context, writes WriteFunc, dest Destination, opts ...PublishOption) (any, error) {
	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		result any
		rec    *Record
	)

	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		data, err := writes(ctx, tx)
		if err != nil {
			return err
		}

		payload, err := buildPayload(data, cfg.transformPayload)
		if err != nil {
			return fmt.Errorf("failed to serialize event payload: %w", err)
		}

		r := &Record{
			ID:         uuid.New(),
			Exchange:   dest.Exchange,
			RoutingKey: dest.RoutingKey,
			Payload:    payload,
			CreatedAt:  time.Now().UTC(),
		}

		if cfg.entityIDPath != "" || cfg.entityIDFunc != nil {
			entityID, err := resolveEntityID(cfg, data, payload)
			if err != nil {
				return err
			}

			version, err := NextVersion(ctx, tx, entityID)
			if err != nil {
				return fmt.Errorf("failed to compute next aggregate version: %w", err)
			}

			r.Aggregate = &envelope.Aggregate{EntityID: entityID, Version: version}
		}

		if err := tx.InsertRecord(ctx, r); err != nil {
			return fmt.Errorf("failed to store record in outbox: %w", err)
		}

		result = data
		rec = r

		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.relay != nil {
		ctxWithoutCancel := context.WithoutCancel(ctx) // relay is async, it must outlive the request context
		go w.relayRecord(ctxWithoutCancel, *rec)
	}

	return result, nil
}

func (w *Writer) relayRecord(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(ctx, w.relayTimeout)
	defer cancel()

	err := w.relay.Relay(ctx, rec)
	if err != nil {
		w.logger.Warn("relay of committed outbox record failed, sweeper will retry",
			zap.String("record_id", rec.ID.String()),
			zap.String("exchange", rec.Exchange),
			zap.Error(err))
	}

	if w.onRelayDone != nil {
		w.onRelayDone(rec, err)
	}
}

func buildPayload(data any, transform func(any) (any, error)) (json.RawMessage, error) {
	if transform != nil {
		transformed, err := transform(data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(transformed)
	}

	if data == nil {
		return json.RawMessage(`{}`), nil
	}

	return json.Marshal(data)
}

func resolveEntityID(cfg publishConfig, data any, payload json.RawMessage) (string, error) {
	if cfg.entityIDFunc != nil {
		entityID := cfg.entityIDFunc(data)
		if entityID == "" {
			return "", validationErrorf("aggregate entity id extractor returned an empty string")
		}
		return entityID, nil
	}

	return entityIDFromPayload(cfg.entityIDPath, payload)
}

func entityIDFromPayload(path string, payload json.RawMessage) (string, error) {
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", validationErrorf("payload is not valid JSON, cannot resolve path %q", path)
	}

	curr := parsed
	keys := strings.Split(path, ".")
	for i, key := range keys {
		obj, ok := curr.(map[string]any)
		if !ok {
			return "", validationErrorf("key %q at position %d in path %q does not resolve to an object", key, i+1, path)
		}
		curr = obj[key]
	}

	entityID, ok := curr.(string)
	if !ok || entityID == "" {
		return "", validationErrorf("path %q does not resolve to a non-empty string, got %T", path, curr)
	}

	return entityID, nil
}
