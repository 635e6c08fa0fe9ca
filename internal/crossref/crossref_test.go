package crossref

import (
	"errors"
	"os"
	"testing"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/records"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ledgerseal-crossref-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := testStore(t)

	ref := RecordRef{
		RecordType: records.Report,
		RecordID:   "12",
		LedgerKey:  "report_12",
		TxID:       "tx-1",
		Digest:     "formdigest",
		FileDigest: "filedigest",
		Locator:    "QmLocator",
		IVHex:      "00112233445566778899aabbccddeeff",
		FileName:   "scan.pdf",
		ActorID:    "9",
	}
	if err := s.Upsert(ref); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(records.Report, "12")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LedgerKey != "report_12" || got.TxID != "tx-1" {
		t.Errorf("got ref %+v", got)
	}
	if got.Locator != "QmLocator" || got.IVHex != ref.IVHex || got.FileName != "scan.pdf" {
		t.Errorf("file fields not persisted: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should default to the write time")
	}
}

func TestStore_UpsertLastWriteWins(t *testing.T) {
	s := testStore(t)

	first := RecordRef{RecordType: records.Patient, RecordID: "1", LedgerKey: "patient_1", TxID: "tx-old", Digest: "d1"}
	second := RecordRef{RecordType: records.Patient, RecordID: "1", LedgerKey: "patient_1", TxID: "tx-new", Digest: "d2"}
	if err := s.Upsert(first); err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	if err := s.Upsert(second); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	got, err := s.Get(records.Patient, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TxID != "tx-new" || got.Digest != "d2" {
		t.Errorf("got tx=%q digest=%q, want the second write", got.TxID, got.Digest)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(records.Patient, "404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing row: err = %v, want ErrNotFound", err)
	}
}

func TestStore_OperationLog(t *testing.T) {
	s := testStore(t)

	ops := []Operation{
		{Operation: "store", RecordType: records.Patient, RecordID: "1", TxID: "t1"},
		{Operation: "verify", RecordType: records.Patient, RecordID: "1", Detail: "VALID"},
		{Operation: "store", RecordType: records.Report, RecordID: "2", TxID: "t2", ActorID: "9"},
	}
	for _, op := range ops {
		if err := s.LogOperation(op); err != nil {
			t.Fatalf("LogOperation: %v", err)
		}
	}

	recent, err := s.RecentOperations(2)
	if err != nil {
		t.Fatalf("RecentOperations: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d rows, want 2", len(recent))
	}
	if recent[0].Operation != "store" || recent[0].RecordID != "2" {
		t.Errorf("recent[0] = %+v, want the newest row first", recent[0])
	}
	if recent[1].Operation != "verify" {
		t.Errorf("recent[1] = %+v", recent[1])
	}
	if recent[0].ID <= recent[1].ID {
		t.Errorf("ids should descend: %d then %d", recent[0].ID, recent[1].ID)
	}

	all, err := s.RecentOperations(0)
	if err != nil {
		t.Fatalf("RecentOperations default limit: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("default limit returned %d rows, want 3", len(all))
	}
}
