// Package mongostore implements the outbox Store on MongoDB.
//
// Records live in the "_outbox" collection. The aggregate version stamp is
// embedded in the record document; a sparse unique index on
// (aggregate.entityId, aggregate.version) backs the monotonicity guarantee,
// since MongoDB cannot serialize the read-then-write across sessions.
// EnsureIndexes creates that index together with the (isSent, createdAt)
// index used by the sweeper.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/delivery-platform/messaging/pkg/envelope"
	"github.com/delivery-platform/messaging/pkg/outbox"
)

const defaultCollection = "_outbox"

// Store is a MongoDB backed outbox store. Transactions require a replica set
// or sharded deployment.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// StoreOption configures a Store instance.
type StoreOption func(*storeConfig)

type storeConfig struct {
	collection string
}

// WithCollection overrides the outbox collection name. Default is "_outbox".
func WithCollection(name string) StoreOption {
	return func(c *storeConfig) {
		if name != "" {
			c.collection = name
		}
	}
}

// New creates a Store over the given client and database.
func New(client *mongo.Client, database string, opts ...StoreOption) *Store {
	cfg := storeConfig{collection: defaultCollection}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		client: client,
		coll:   client.Database(database).Collection(cfg.collection),
	}
}

// EnsureIndexes creates the indexes the store relies on. Call it once at
// startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "isSent", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("outbox_unsent_idx"),
		},
		{
			Keys: bson.D{{Key: "aggregate.entityId", Value: 1}, {Key: "aggregate.version", Value: 1}},
			Options: options.Index().
				SetName("outbox_aggregate_version_idx").
				SetUnique(true).
				SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}

	return nil
}

// Tx is the transactional handle passed to business writes. Business writes
// reach the session through SessionContext, so their operations join the
// same transaction as the outbox insert:
//
//	result, err := writer.Publish(ctx, func(ctx context.Context, tx outbox.Tx) (any, error) {
//	    sc := tx.(*mongostore.Tx).SessionContext()
//	    _, err := usersColl.InsertOne(sc, user)
//	    ...
//	}, dest)
type Tx struct {
	sc   mongo.SessionContext
	coll *mongo.Collection
}

// SessionContext returns the session-bound context business writes must use
// for their own collection operations.
func (t *Tx) SessionContext() mongo.SessionContext {
	return t.sc
}

type aggregateDoc struct {
	EntityID string `bson:"entityId"`
	Version  int64  `bson:"version"`
}

type recordDoc struct {
	ID         string        `bson:"_id"`
	Exchange   string        `bson:"exchange"`
	RoutingKey string        `bson:"routingKey"`
	Payload    string        `bson:"payload"`
	Aggregate  *aggregateDoc `bson:"aggregate,omitempty"`
	IsSent     bool          `bson:"isSent"`
	CreatedAt  time.Time     `bson:"createdAt"`
}

// InsertRecord stores a new outbox record within the session transaction.
func (t *Tx) InsertRecord(ctx context.Context, rec *outbox.Record) error {
	doc := recordDoc{
		ID:         rec.ID.String(),
		Exchange:   rec.Exchange,
		RoutingKey: rec.RoutingKey,
		Payload:    string(rec.Payload),
		IsSent:     rec.IsSent,
		CreatedAt:  rec.CreatedAt,
	}
	if rec.Aggregate != nil {
		doc.Aggregate = &aggregateDoc{EntityID: rec.Aggregate.EntityID, Version: rec.Aggregate.Version}
	}

	_, err := t.coll.InsertOne(t.sc, doc)
	return err
}

// LatestVersion returns the highest aggregate version stored for the entity,
// or 0 when the entity has no versioned records yet.
func (t *Tx) LatestVersion(ctx context.Context, entityID string) (int64, error) {
	var doc recordDoc
	err := t.coll.FindOne(t.sc,
		bson.M{"aggregate.entityId": entityID},
		options.FindOne().SetSort(bson.D{{Key: "aggregate.version", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if doc.Aggregate == nil {
		return 0, nil
	}

	return doc.Aggregate.Version, nil
}

// InTx runs work inside one session transaction with primary reads, local
// read concern and majority write concern.
func (s *Store) InTx(ctx context.Context, work func(ctx context.Context, tx outbox.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadPreference(readpref.Primary()).
		SetReadConcern(readconcern.Local()).
		SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, work(sc, &Tx{sc: sc, coll: s.coll})
	}, txnOpts)

	return err
}

// MarkSent flips the record's sent flag. The update is idempotent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.coll.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"isSent": true}})
	return err
}

// Unsent returns up to limit unsent records, oldest first.
func (s *Store) Unsent(ctx context.Context, limit int) ([]outbox.Record, error) {
	cursor, err := s.coll.Find(ctx,
		bson.M{"isSent": false},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var records []outbox.Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}

		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid outbox record id %q: %w", doc.ID, err)
		}

		rec := outbox.Record{
			ID:         id,
			Exchange:   doc.Exchange,
			RoutingKey: doc.RoutingKey,
			Payload:    json.RawMessage(doc.Payload),
			IsSent:     doc.IsSent,
			CreatedAt:  doc.CreatedAt,
		}
		if doc.Aggregate != nil {
			rec.Aggregate = &envelope.Aggregate{EntityID: doc.Aggregate.EntityID, Version: doc.Aggregate.Version}
		}

		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
