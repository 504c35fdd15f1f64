// Package sqlstore implements the outbox Store on database/sql.
//
// It expects an "outbox" table with the following shape (Postgres dialect):
//
//	CREATE TABLE outbox (
//	    id                  UUID PRIMARY KEY,
//	    exchange            TEXT NOT NULL,
//	    routing_key         TEXT NOT NULL DEFAULT '',
//	    payload             TEXT NOT NULL,
//	    aggregate_entity_id TEXT,
//	    aggregate_version   BIGINT,
//	    is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at          TIMESTAMP NOT NULL
//	);
//
// plus an index on (is_sent, created_at) for the sweeper query and a unique
// index on (aggregate_entity_id, aggregate_version) backing the version
// monotonicity guarantee. Schema returns equivalent DDL per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/delivery-platform/messaging/pkg/envelope"
	"github.com/delivery-platform/messaging/pkg/outbox"
)

// Store is a database/sql backed outbox store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a Store over the given connection pool and dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Tx is the transactional handle passed to business writes. Besides the
// outbox operations it exposes the underlying transaction, so business
// writes run their own statements in the same transaction:
//
//	result, err := writer.Publish(ctx, func(ctx context.Context, tx outbox.Tx) (any, error) {
//	    stx := tx.(*sqlstore.Tx)
//	    _, err := stx.ExecContext(ctx, "INSERT INTO users (id, email) VALUES ($1, $2)", id, email)
//	    ...
//	}, dest)
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext executes a statement within the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query within the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query within the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// InsertRecord stores a new outbox record as part of the transaction.
func (t *Tx) InsertRecord(ctx context.Context, rec *outbox.Record) error {
	var entityID, version any
	if rec.Aggregate != nil {
		entityID = rec.Aggregate.EntityID
		version = rec.Aggregate.Version
	}

	_, err := t.tx.ExecContext(ctx, buildInsertRecordQuery(t.dialect),
		formatID(t.dialect, rec.ID),
		rec.Exchange,
		rec.RoutingKey,
		string(rec.Payload),
		entityID,
		version,
		formatBool(t.dialect, false),
		rec.CreatedAt,
	)
	return err
}

// LatestVersion returns the highest aggregate version stored for the entity,
// or 0 when the entity has no versioned records yet.
func (t *Tx) LatestVersion(ctx context.Context, entityID string) (int64, error) {
	var latest int64
	err := t.tx.QueryRowContext(ctx, buildLatestVersionQuery(t.dialect), entityID).Scan(&latest)
	if err != nil {
		return 0, err
	}
	return latest, nil
}

// InTx runs work inside one transaction, committing when it returns nil and
// rolling back otherwise.
func (s *Store) InTx(ctx context.Context, work func(ctx context.Context, tx outbox.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var committed bool
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := work(ctx, &Tx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// MarkSent flips the record's sent flag. The update is idempotent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, buildMarkSentQuery(s.dialect),
		formatBool(s.dialect, true),
		formatID(s.dialect, id),
	)
	return err
}

// Unsent returns up to limit unsent records, oldest first.
func (s *Store) Unsent(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := s.db.QueryContext(ctx, buildUnsentQuery(s.dialect),
		formatBool(s.dialect, false),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []outbox.Record
	for rows.Next() {
		var (
			rec      outbox.Record
			payload  string
			entityID sql.NullString
			version  sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Exchange, &rec.RoutingKey, &payload, &entityID, &version, &rec.CreatedAt); err != nil {
			return nil, err
		}

		rec.Payload = json.RawMessage(payload)
		if entityID.Valid {
			rec.Aggregate = &envelope.Aggregate{EntityID: entityID.String, Version: version.Int64}
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
