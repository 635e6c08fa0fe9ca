// Package ledger provides tamper-evident, append-only storage of record
// digests. Two interchangeable backends implement the same
// append/rotate/history contract: an in-process simulation for
// development and a chaincode-invocation client for production.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/tessera-health/ledgerseal/internal/records"
)

// Entry is one committed snapshot for a record key.
type Entry struct {
	RecordKey  string            `json:"recordKey"`
	RecordType records.Type      `json:"recordType"`
	SubjectID  string            `json:"subjectId"`
	Payload    map[string]string `json:"digestPayload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	TxID       string            `json:"transactionId"`
}

// Record owns the current entry for a key plus every superseded entry,
// oldest first. Appending rotates current into history; history is
// never reordered or truncated.
type Record struct {
	Current Entry   `json:"current"`
	History []Entry `json:"history"`
}

// Ledger is the backend contract. A key with no entries does not
// exist: reads return an error wrapping apperr.ErrNotFound, never a
// nil result with a nil error.
type Ledger interface {
	// Append commits a new entry under key, rotating any existing
	// current entry into history, and returns the committed entry with
	// its backend-assigned transaction id.
	Append(ctx context.Context, key string, rtype records.Type, subjectID string, payload, metadata map[string]string) (*Entry, error)
	// Get returns the current entry for key.
	Get(ctx context.Context, key string) (*Entry, error)
	// History returns every entry for key in chronological order,
	// superseded entries first, the current entry last.
	History(ctx context.Context, key string) ([]Entry, error)
	// VerifyDigest compares digest against the stored primary digest
	// ("hash", falling back to "formHash") of the current entry.
	VerifyDigest(ctx context.Context, key, digest string) (bool, error)
	// BySubject returns the current entries of all records for a
	// subject, across types.
	BySubject(ctx context.Context, subjectID string) ([]Entry, error)
	// ByType returns the current entries of all records of one type.
	ByType(ctx context.Context, rtype records.Type) ([]Entry, error)
	// IsConfigured reports whether the backend can accept operations.
	IsConfigured() bool
	// Simulation reports whether this is the in-process backend.
	Simulation() bool
}

const txTimeFormat = "20060102150405"

// simTxID synthesizes a simulation transaction id:
// sim-YYYYMMDDHHMMSS-<4 random hex bytes>.
func simTxID(now time.Time) string {
	return "sim-" + now.UTC().Format(txTimeFormat) + "-" + randHex(4)
}

// fallbackTxID synthesizes an id when the external backend's output
// yields none: YYYYMMDDHHMMSS-<8 random hex bytes>.
func fallbackTxID(now time.Time) string {
	return now.UTC().Format(txTimeFormat) + "-" + randHex(8)
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEntry(e Entry) Entry {
	e.Payload = cloneMap(e.Payload)
	e.Metadata = cloneMap(e.Metadata)
	return e
}
