package crossref

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// RecordRef is one row of the record-to-ledger map.
type RecordRef struct {
	RecordType records.Type
	RecordID   string
	LedgerKey  string
	TxID       string
	Digest     string
	FileDigest string
	Locator    string
	IVHex      string
	FileName   string
	ActorID    string
	UpdatedAt  time.Time
}

// Operation is one row of the operation log.
type Operation struct {
	ID         int64
	Operation  string
	RecordType records.Type
	RecordID   string
	TxID       string
	ActorID    string
	Detail     string
	CreatedAt  time.Time
}

// Upsert inserts or replaces the ledger coordinates for a record. The
// map keeps one row per (record_type, record_id); last write wins.
func (s *Store) Upsert(ref RecordRef) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(`
		INSERT INTO record_ledger_map (record_type, record_id, ledger_key, tx_id, digest, file_digest, locator, iv_hex, file_name, actor_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_type, record_id) DO UPDATE SET
			ledger_key  = excluded.ledger_key,
			tx_id       = excluded.tx_id,
			digest      = excluded.digest,
			file_digest = excluded.file_digest,
			locator     = excluded.locator,
			iv_hex      = excluded.iv_hex,
			file_name   = excluded.file_name,
			actor_id    = excluded.actor_id,
			updated_at  = excluded.updated_at
	`, string(ref.RecordType), ref.RecordID, ref.LedgerKey, ref.TxID, ref.Digest, ref.FileDigest, ref.Locator, ref.IVHex, ref.FileName, ref.ActorID, ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("crossref: upsert record map: %w", err)
	}
	return nil
}

// Get returns the mapped ledger coordinates for a record.
func (s *Store) Get(rtype records.Type, recordID string) (*RecordRef, error) {
	ref := RecordRef{RecordType: rtype, RecordID: recordID}
	err := s.conn.QueryRow(`
		SELECT ledger_key, tx_id, digest, file_digest, locator, iv_hex, file_name, actor_id, updated_at
		FROM record_ledger_map
		WHERE record_type = ? AND record_id = ?
	`, string(rtype), recordID).Scan(
		&ref.LedgerKey, &ref.TxID, &ref.Digest, &ref.FileDigest,
		&ref.Locator, &ref.IVHex, &ref.FileName, &ref.ActorID, &ref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crossref: %s %s: %w", rtype, recordID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("crossref: get record map: %w", err)
	}
	return &ref, nil
}

// LogOperation appends one row to the operation log.
func (s *Store) LogOperation(op Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(`
		INSERT INTO operation_log (operation, record_type, record_id, tx_id, actor_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.Operation, string(op.RecordType), op.RecordID, op.TxID, op.ActorID, op.Detail, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("crossref: log operation: %w", err)
	}
	return nil
}

// RecentOperations returns the newest log rows, most recent first.
func (s *Store) RecentOperations(limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
		SELECT id, operation, record_type, record_id, tx_id, actor_id, detail, created_at
		FROM operation_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("crossref: recent operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var rtype string
		if err := rows.Scan(&op.ID, &op.Operation, &rtype, &op.RecordID, &op.TxID, &op.ActorID, &op.Detail, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.RecordType = records.Type(rtype)
		out = append(out, op)
	}
	return out, rows.Err()
}
