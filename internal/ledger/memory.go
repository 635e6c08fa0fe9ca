package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// Memory is the simulation backend: an in-process map of ledger
// records. Appends to the same key serialize on one mutex, so the
// read-rotate-install sequence is atomic per key. Nothing persists
// across restarts; that is an accepted property of simulation mode.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) IsConfigured() bool { return true }

func (m *Memory) Simulation() bool { return true }

func (m *Memory) Append(_ context.Context, key string, rtype records.Type, subjectID string, payload, metadata map[string]string) (*Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("ledger: empty record key: %w", apperr.ErrInvalid)
	}
	now := time.Now().UTC()
	entry := Entry{
		RecordKey:  key,
		RecordType: rtype,
		SubjectID:  subjectID,
		Payload:    cloneMap(payload),
		Metadata:   cloneMap(metadata),
		Timestamp:  now,
		TxID:       simTxID(now),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		m.records[key] = &Record{Current: entry}
	} else {
		rec.History = append(rec.History, rec.Current)
		rec.Current = entry
	}
	out := cloneEntry(entry)
	return &out, nil
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("ledger: record %s: %w", key, apperr.ErrNotFound)
	}
	out := cloneEntry(rec.Current)
	return &out, nil
}

func (m *Memory) History(_ context.Context, key string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("ledger: record %s: %w", key, apperr.ErrNotFound)
	}
	out := make([]Entry, 0, len(rec.History)+1)
	for _, e := range rec.History {
		out = append(out, cloneEntry(e))
	}
	out = append(out, cloneEntry(rec.Current))
	return out, nil
}

func (m *Memory) VerifyDigest(ctx context.Context, key, digest string) (bool, error) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return false, err
	}
	stored := entry.Payload[canonical.KeyHash]
	if stored == "" {
		stored = entry.Payload[canonical.KeyFormHash]
	}
	return stored == digest, nil
}

func (m *Memory) BySubject(_ context.Context, subjectID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, rec := range m.records {
		if rec.Current.SubjectID == subjectID {
			out = append(out, cloneEntry(rec.Current))
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) ByType(_ context.Context, rtype records.Type) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, rec := range m.records {
		if rec.Current.RecordType == rtype {
			out = append(out, cloneEntry(rec.Current))
		}
	}
	sortEntries(out)
	return out, nil
}

// sortEntries orders scan results chronologically, record key as the
// tiebreak, so map iteration order never leaks out.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].RecordKey < entries[j].RecordKey
	})
}
