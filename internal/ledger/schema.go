// Package ledger provides the SQLite-backed identity directory and the
// append-only issuance ledger keyed by artifact fingerprint.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS identities (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	phone      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS issuances (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id    INTEGER NOT NULL REFERENCES identities(id),
	artifact_ref   TEXT NOT NULL,
	marker_token   TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	perturbation   TEXT NOT NULL,
	connected_name TEXT NOT NULL,
	issued_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issuances_fingerprint ON issuances(fingerprint);
CREATE INDEX IF NOT EXISTS idx_issuances_identity ON issuances(identity_id);
`

// DB wraps a sql.DB with identity and ledger operations. The handle is
// opened once and shared; each operation acquires its own connection or
// transaction from the pool.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext reports whether the database is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
