// Package crossref maintains the collaborator-side cross-reference
// database: a map from domain records to their ledger coordinates, and
// an append-only log of subsystem operations.
package crossref

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS record_ledger_map (
	record_type TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	ledger_key  TEXT NOT NULL,
	tx_id       TEXT NOT NULL DEFAULT '',
	digest      TEXT NOT NULL DEFAULT '',
	file_digest TEXT NOT NULL DEFAULT '',
	locator     TEXT NOT NULL DEFAULT '',
	iv_hex      TEXT NOT NULL DEFAULT '',
	file_name   TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (record_type, record_id)
);

CREATE TABLE IF NOT EXISTS operation_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	operation   TEXT NOT NULL,
	record_type TEXT NOT NULL DEFAULT '',
	record_id   TEXT NOT NULL DEFAULT '',
	tx_id       TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_operation_log_record ON operation_log(record_type, record_id);
`

// Store wraps a sql.DB with cross-reference operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("crossref: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("crossref: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("crossref: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
