package sqlstore

import (
	"fmt"

	"github.com/google/uuid"
)

// Dialect represents a SQL database dialect.
type Dialect string

// Supported database dialects.
const (
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	MariaDB   Dialect = "mariadb"
	SQLite    Dialect = "sqlite"
	Oracle    Dialect = "oracle"
	SQLServer Dialect = "sqlserver"
)

// placeholder returns the parameter placeholder for the given 1-based index.
func placeholder(d Dialect, index int) string {
	switch d {
	case Postgres:
		return fmt.Sprintf("$%d", index)

	case Oracle:
		return fmt.Sprintf(":%d", index)

	case SQLServer:
		return fmt.Sprintf("@p%d", index)

	default:
		return "?"
	}
}

// formatID formats a record id for the dialect.
func formatID(d Dialect, id uuid.UUID) any {
	switch d {
	case MySQL, Oracle, SQLServer:
		bytes, _ := id.MarshalBinary() // Convert UUID to binary for better storage
		return bytes
	case Postgres, MariaDB:
		return id // Native support
	default:
		return id.String()
	}
}

// formatBool formats a boolean argument for dialects without a boolean type.
func formatBool(d Dialect, b bool) any {
	switch d {
	case Oracle, SQLServer:
		if b {
			return 1
		}
		return 0
	default:
		return b
	}
}

func buildInsertRecordQuery(d Dialect) string {
	return fmt.Sprintf("INSERT INTO outbox (id, exchange, routing_key, payload, aggregate_entity_id, aggregate_version, is_sent, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)",
		placeholder(d, 1),
		placeholder(d, 2),
		placeholder(d, 3),
		placeholder(d, 4),
		placeholder(d, 5),
		placeholder(d, 6),
		placeholder(d, 7),
		placeholder(d, 8))
}

func buildLatestVersionQuery(d Dialect) string {
	return fmt.Sprintf("SELECT COALESCE(MAX(aggregate_version), 0) FROM outbox WHERE aggregate_entity_id = %s", placeholder(d, 1))
}

func buildMarkSentQuery(d Dialect) string {
	return fmt.Sprintf("UPDATE outbox SET is_sent = %s WHERE id = %s", placeholder(d, 1), placeholder(d, 2))
}

func buildUnsentQuery(d Dialect) string {
	cols := "id, exchange, routing_key, payload, aggregate_entity_id, aggregate_version, created_at"

	switch d {
	case Oracle:
		return fmt.Sprintf("SELECT %s FROM outbox WHERE is_sent = %s ORDER BY created_at ASC FETCH FIRST %s ROWS ONLY", cols, placeholder(d, 1), placeholder(d, 2))

	default:
		return fmt.Sprintf("SELECT %s FROM outbox WHERE is_sent = %s ORDER BY created_at ASC LIMIT %s", cols, placeholder(d, 1), placeholder(d, 2))
	}
}

// Schema returns DDL creating the outbox table and its indexes for the
// dialect. It is a convenience for examples and test setups; production
// deployments manage the schema with their own migrations.
func Schema(d Dialect) string {
	switch d {
	case Postgres:
		return `CREATE TABLE IF NOT EXISTS outbox (
    id                  UUID PRIMARY KEY,
    exchange            TEXT NOT NULL,
    routing_key         TEXT NOT NULL DEFAULT '',
    payload             TEXT NOT NULL,
    aggregate_entity_id TEXT,
    aggregate_version   BIGINT,
    is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_unsent_idx ON outbox (is_sent, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_aggregate_version_idx ON outbox (aggregate_entity_id, aggregate_version) WHERE aggregate_entity_id IS NOT NULL;`

	case MariaDB:
		return `CREATE TABLE IF NOT EXISTS outbox (
    id                  UUID PRIMARY KEY,
    exchange            VARCHAR(255) NOT NULL,
    routing_key         VARCHAR(255) NOT NULL DEFAULT '',
    payload             TEXT NOT NULL,
    aggregate_entity_id VARCHAR(255),
    aggregate_version   BIGINT,
    is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMP(6) NOT NULL,
    INDEX outbox_unsent_idx (is_sent, created_at),
    UNIQUE INDEX outbox_aggregate_version_idx (aggregate_entity_id, aggregate_version)
);`

	case MySQL:
		return `CREATE TABLE IF NOT EXISTS outbox (
    id                  BINARY(16) PRIMARY KEY,
    exchange            VARCHAR(255) NOT NULL,
    routing_key         VARCHAR(255) NOT NULL DEFAULT '',
    payload             TEXT NOT NULL,
    aggregate_entity_id VARCHAR(255),
    aggregate_version   BIGINT,
    is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMP(6) NOT NULL,
    INDEX outbox_unsent_idx (is_sent, created_at),
    UNIQUE INDEX outbox_aggregate_version_idx (aggregate_entity_id, aggregate_version)
);`

	case Oracle:
		return `CREATE TABLE outbox (
    id                  RAW(16) PRIMARY KEY,
    exchange            VARCHAR2(255) NOT NULL,
    routing_key         VARCHAR2(255) DEFAULT '' NOT NULL,
    payload             CLOB NOT NULL,
    aggregate_entity_id VARCHAR2(255),
    aggregate_version   NUMBER(19),
    is_sent             NUMBER(1) DEFAULT 0 NOT NULL,
    created_at          TIMESTAMP NOT NULL
);
CREATE INDEX outbox_unsent_idx ON outbox (is_sent, created_at);
CREATE UNIQUE INDEX outbox_aggregate_version_idx ON outbox (aggregate_entity_id, aggregate_version);`

	case SQLServer:
		return `IF OBJECT_ID('outbox', 'U') IS NULL
CREATE TABLE outbox (
    id                  BINARY(16) PRIMARY KEY,
    exchange            NVARCHAR(255) NOT NULL,
    routing_key         NVARCHAR(255) NOT NULL DEFAULT '',
    payload             NVARCHAR(MAX) NOT NULL,
    aggregate_entity_id NVARCHAR(255),
    aggregate_version   BIGINT,
    is_sent             BIT NOT NULL DEFAULT 0,
    created_at          DATETIME2 NOT NULL
);
CREATE INDEX outbox_unsent_idx ON outbox (is_sent, created_at);
CREATE UNIQUE INDEX outbox_aggregate_version_idx ON outbox (aggregate_entity_id, aggregate_version) WHERE aggregate_entity_id IS NOT NULL;`

	default:
		return `CREATE TABLE IF NOT EXISTS outbox (
    id                  VARCHAR(36) PRIMARY KEY,
    exchange            VARCHAR(255) NOT NULL,
    routing_key         VARCHAR(255) NOT NULL DEFAULT '',
    payload             TEXT NOT NULL,
    aggregate_entity_id VARCHAR(255),
    aggregate_version   BIGINT,
    is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_unsent_idx ON outbox (is_sent, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_aggregate_version_idx ON outbox (aggregate_entity_id, aggregate_version);`
	}
}
