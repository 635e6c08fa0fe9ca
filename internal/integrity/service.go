// Package integrity composes the canonical hasher, the encryption
// service, the content-addressable store, and the ledger into per-type
// store and verify operations.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/cas"
	"github.com/tessera-health/ledgerseal/internal/crossref"
	"github.com/tessera-health/ledgerseal/internal/crypto"
	"github.com/tessera-health/ledgerseal/internal/ledger"
	"github.com/tessera-health/ledgerseal/internal/records"
	"github.com/tessera-health/ledgerseal/internal/sse"
)

// Verification statuses.
const (
	StatusValid    = "VALID"
	StatusTampered = "TAMPERED"
	StatusNotFound = "NOT_FOUND"
	StatusError    = "ERROR"
)

// StoreInput describes one simple record to seal.
type StoreInput struct {
	RecordType records.Type
	RecordID   string
	SubjectID  string
	Fields     canonical.Fields
	// List carries the nested elements for list-bearing types
	// (prescription medications, invoice line items).
	List     []canonical.Fields
	Metadata map[string]string
	ActorID  string
}

// VerifyInput describes one record to verify against the ledger.
type VerifyInput struct {
	RecordType records.Type
	RecordID   string
	Fields     canonical.Fields
	List       []canonical.Fields
}

// ReportInput describes a report to seal, with an optional file.
type ReportInput struct {
	RecordID  string
	SubjectID string
	Fields    canonical.Fields
	FileName  string
	FileData  []byte
	Metadata  map[string]string
	ActorID   string
}

// ReportVerifyInput describes a report to verify. FileData is optional;
// when absent, file verification is reported as undetermined.
type ReportVerifyInput struct {
	RecordID string
	Fields   canonical.Fields
	FileData []byte
}

// CrossRefOutcome reports the secondary cross-reference write. It never
// affects the primary result.
type CrossRefOutcome struct {
	Written bool   `json:"written"`
	Error   string `json:"error,omitempty"`
}

// StoreResult reports a sealed simple record.
type StoreResult struct {
	RecordKey  string           `json:"record_key"`
	RecordType records.Type     `json:"record_type"`
	RecordID   string           `json:"record_id"`
	Digest     string           `json:"digest"`
	TxID       string           `json:"tx_id"`
	Timestamp  time.Time        `json:"timestamp"`
	CrossRef   *CrossRefOutcome `json:"cross_ref,omitempty"`
}

// ReportResult reports a sealed report and its optional file artifacts.
type ReportResult struct {
	RecordKey  string           `json:"record_key"`
	RecordID   string           `json:"record_id"`
	FormDigest string           `json:"form_digest"`
	FileDigest string           `json:"file_digest,omitempty"`
	Locator    string           `json:"locator,omitempty"`
	LocatorURL string           `json:"locator_url,omitempty"`
	IVHex      string           `json:"iv_hex,omitempty"`
	TxID       string           `json:"tx_id"`
	Timestamp  time.Time        `json:"timestamp"`
	CrossRef   *CrossRefOutcome `json:"cross_ref,omitempty"`
}

// VerificationResult classifies one verification as VALID, TAMPERED,
// NOT_FOUND, or ERROR. FormVerified and FileVerified are nil when that
// comparison was not performed; Verified is the conjunction of the
// comparisons that were.
type VerificationResult struct {
	RecordKey    string       `json:"record_key"`
	RecordType   records.Type `json:"record_type"`
	RecordID     string       `json:"record_id"`
	Status       string       `json:"status"`
	Verified     bool         `json:"verified"`
	Digest       string       `json:"digest,omitempty"`
	LedgerDigest string       `json:"ledger_digest,omitempty"`
	FormVerified *bool        `json:"form_verified,omitempty"`
	FileVerified *bool        `json:"file_verified,omitempty"`
	TxID         string       `json:"tx_id,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Error        string       `json:"error,omitempty"`
}

// BatchResult aggregates independent verifications; the per-status
// counts always sum to Total.
type BatchResult struct {
	Total    int                  `json:"total"`
	Valid    int                  `json:"valid"`
	Tampered int                  `json:"tampered"`
	NotFound int                  `json:"not_found"`
	Errors   int                  `json:"errors"`
	Results  []VerificationResult `json:"results"`
}

// AuditTrail is the full chronological ledger trail for one key.
type AuditTrail struct {
	RecordKey    string         `json:"record_key"`
	ChangesCount int            `json:"changes_count"`
	Entries      []ledger.Entry `json:"entries"`
}

// SubjectAudit summarizes every sealed record for one subject.
type SubjectAudit struct {
	SubjectID string         `json:"subject_id"`
	Total     int            `json:"total"`
	ByType    map[string]int `json:"by_type"`
	Entries   []ledger.Entry `json:"entries"`
}

// Status reports backend availability.
type Status struct {
	LedgerConfigured bool      `json:"ledger_configured"`
	StoreConfigured  bool      `json:"store_configured"`
	Simulation       bool      `json:"simulation"`
	Timestamp        time.Time `json:"timestamp"`
}

// Service coordinates digest, encryption, store, and ledger operations.
type Service struct {
	ledger ledger.Ledger
	store  cas.Provider
	cipher *crypto.Cipher
	xref   *crossref.Store
	broker *sse.Broker
	logger *slog.Logger
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithCrossRef enables the secondary cross-reference store.
func WithCrossRef(store *crossref.Store) Option {
	return func(s *Service) { s.xref = store }
}

// WithBroker enables event publication.
func WithBroker(b *sse.Broker) Option {
	return func(s *Service) { s.broker = b }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates the orchestration service over its collaborators.
func NewService(led ledger.Ledger, store cas.Provider, cipher *crypto.Cipher, opts ...Option) *Service {
	s := &Service{ledger: led, store: store, cipher: cipher, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StoreRecord seals a simple record: digest the fields and append
// {hash: digest} under "<type>_<id>". Reports go through StoreReport.
func (s *Service) StoreRecord(ctx context.Context, in StoreInput) (*StoreResult, error) {
	rtype, err := records.Parse(string(in.RecordType))
	if err != nil {
		return nil, err
	}
	in.RecordType = rtype
	if in.RecordType == records.Report {
		return nil, fmt.Errorf("integrity: report records go through StoreReport: %w", apperr.ErrInvalid)
	}
	if in.RecordID == "" {
		return nil, fmt.Errorf("integrity: empty record id: %w", apperr.ErrInvalid)
	}
	digest, err := canonical.DigestFor(in.RecordType, in.Fields, in.List)
	if err != nil {
		return nil, err
	}

	key := in.RecordType.Key(in.RecordID)
	entry, err := s.ledger.Append(ctx, key, in.RecordType, in.SubjectID, canonical.SimplePayload(digest), withActor(in.Metadata, in.ActorID))
	if err != nil {
		return nil, err
	}

	res := &StoreResult{
		RecordKey:  key,
		RecordType: in.RecordType,
		RecordID:   in.RecordID,
		Digest:     digest,
		TxID:       entry.TxID,
		Timestamp:  entry.Timestamp,
	}
	res.CrossRef = s.writeCrossRef(crossref.RecordRef{
		RecordType: in.RecordType,
		RecordID:   in.RecordID,
		LedgerKey:  key,
		TxID:       entry.TxID,
		Digest:     digest,
		ActorID:    in.ActorID,
	})
	s.logOperation("store", in.RecordType, in.RecordID, entry.TxID, in.ActorID, "")
	s.publish("stored", key, map[string]string{"txid": entry.TxID})
	return res, nil
}

// VerifyRecord recomputes a record's digest and compares it with the
// ledger's current one. Report records verify form-only here; use
// VerifyReport to also check file bytes.
func (s *Service) VerifyRecord(ctx context.Context, in VerifyInput) (*VerificationResult, error) {
	rtype, err := records.Parse(string(in.RecordType))
	if err != nil {
		return nil, err
	}
	in.RecordType = rtype
	if in.RecordID == "" {
		return nil, fmt.Errorf("integrity: empty record id: %w", apperr.ErrInvalid)
	}
	digest, err := canonical.DigestFor(in.RecordType, in.Fields, in.List)
	if err != nil {
		return nil, err
	}

	key := in.RecordType.Key(in.RecordID)
	res := &VerificationResult{
		RecordKey:  key,
		RecordType: in.RecordType,
		RecordID:   in.RecordID,
		Digest:     digest,
	}

	entry, err := s.ledger.Get(ctx, key)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		res.Status = StatusNotFound
	case err != nil:
		res.Status = StatusError
		res.Error = err.Error()
	default:
		stored := entry.Payload[canonical.KeyHash]
		if stored == "" {
			stored = entry.Payload[canonical.KeyFormHash]
		}
		res.LedgerDigest = stored
		res.TxID = entry.TxID
		res.Timestamp = entry.Timestamp
		if stored == digest {
			res.Status = StatusValid
			res.Verified = true
		} else {
			res.Status = StatusTampered
		}
	}

	s.logOperation("verify", in.RecordType, in.RecordID, res.TxID, "", res.Status)
	s.publish("verified", key, map[string]string{"status": res.Status})
	return res, nil
}

// StoreReport seals a report. The form digest is always computed; when
// file bytes are present they are digested, encrypted, and uploaded
// first. A failed upload aborts the whole operation before any ledger
// append.
func (s *Service) StoreReport(ctx context.Context, in ReportInput) (*ReportResult, error) {
	if in.RecordID == "" {
		return nil, fmt.Errorf("integrity: empty report id: %w", apperr.ErrInvalid)
	}
	formHash := canonical.ReportFormDigest(in.Fields)
	key := records.Report.Key(in.RecordID)

	var fileHash, locator, locatorURL, ivHex string
	if len(in.FileData) > 0 {
		if s.cipher == nil {
			return nil, fmt.Errorf("integrity: no encryption key configured: %w", apperr.ErrConfiguration)
		}
		fileHash = canonical.FileDigest(in.FileData)
		ciphertext, iv, err := s.cipher.EncryptForStorage(in.FileData)
		if err != nil {
			return nil, err
		}
		ivHex = iv
		locator, err = s.store.Upload(ctx, ciphertext, in.FileName, map[string]string{
			"recordKey": key,
			"fileHash":  fileHash,
		})
		if err != nil {
			return nil, err
		}
		locatorURL = s.store.LocatorURL(locator)
	}

	entry, err := s.ledger.Append(ctx, key, records.Report, in.SubjectID,
		canonical.ReportPayload(formHash, fileHash, locator), withActor(in.Metadata, in.ActorID))
	if err != nil {
		return nil, err
	}

	res := &ReportResult{
		RecordKey:  key,
		RecordID:   in.RecordID,
		FormDigest: formHash,
		FileDigest: fileHash,
		Locator:    locator,
		LocatorURL: locatorURL,
		IVHex:      ivHex,
		TxID:       entry.TxID,
		Timestamp:  entry.Timestamp,
	}
	res.CrossRef = s.writeCrossRef(crossref.RecordRef{
		RecordType: records.Report,
		RecordID:   in.RecordID,
		LedgerKey:  key,
		TxID:       entry.TxID,
		Digest:     formHash,
		FileDigest: fileHash,
		Locator:    locator,
		IVHex:      ivHex,
		FileName:   in.FileName,
		ActorID:    in.ActorID,
	})
	s.logOperation("store", records.Report, in.RecordID, entry.TxID, in.ActorID, "")
	s.publish("stored", key, map[string]string{"txid": entry.TxID})
	return res, nil
}

// VerifyReport compares the form digest always and the file digest only
// when bytes are supplied; with no bytes the file comparison stays
// undetermined (nil), distinct from false.
func (s *Service) VerifyReport(ctx context.Context, in ReportVerifyInput) (*VerificationResult, error) {
	if in.RecordID == "" {
		return nil, fmt.Errorf("integrity: empty report id: %w", apperr.ErrInvalid)
	}
	formHash := canonical.ReportFormDigest(in.Fields)
	key := records.Report.Key(in.RecordID)

	res := &VerificationResult{
		RecordKey:  key,
		RecordType: records.Report,
		RecordID:   in.RecordID,
		Digest:     formHash,
	}

	entry, err := s.ledger.Get(ctx, key)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		res.Status = StatusNotFound
	case err != nil:
		res.Status = StatusError
		res.Error = err.Error()
	default:
		storedForm := entry.Payload[canonical.KeyFormHash]
		if storedForm == "" {
			storedForm = entry.Payload[canonical.KeyHash]
		}
		res.LedgerDigest = storedForm
		res.TxID = entry.TxID
		res.Timestamp = entry.Timestamp

		formOK := storedForm == formHash
		res.FormVerified = &formOK
		verified := formOK

		if len(in.FileData) > 0 {
			fileOK := entry.Payload[canonical.KeyFileHash] == canonical.FileDigest(in.FileData)
			res.FileVerified = &fileOK
			verified = verified && fileOK
		}

		res.Verified = verified
		if verified {
			res.Status = StatusValid
		} else {
			res.Status = StatusTampered
		}
	}

	s.logOperation("verify", records.Report, in.RecordID, res.TxID, "", res.Status)
	s.publish("verified", key, map[string]string{"status": res.Status})
	return res, nil
}

// VerifyBatch verifies each input independently. A malformed input
// yields an ERROR result for that item rather than failing the batch.
func (s *Service) VerifyBatch(ctx context.Context, inputs []VerifyInput) (*BatchResult, error) {
	res := &BatchResult{Total: len(inputs), Results: make([]VerificationResult, 0, len(inputs))}
	for _, in := range inputs {
		vr, err := s.VerifyRecord(ctx, in)
		if err != nil {
			vr = &VerificationResult{
				RecordType: in.RecordType,
				RecordID:   in.RecordID,
				Status:     StatusError,
				Error:      err.Error(),
			}
		}
		switch vr.Status {
		case StatusValid:
			res.Valid++
		case StatusTampered:
			res.Tampered++
		case StatusNotFound:
			res.NotFound++
		default:
			res.Errors++
		}
		res.Results = append(res.Results, *vr)
	}
	return res, nil
}

// CurrentEntry returns the current ledger entry for a record.
func (s *Service) CurrentEntry(ctx context.Context, rtype records.Type, recordID string) (*ledger.Entry, error) {
	parsed, err := records.Parse(string(rtype))
	if err != nil {
		return nil, err
	}
	return s.ledger.Get(ctx, parsed.Key(recordID))
}

// RecordsByType returns the current ledger entries of one type.
func (s *Service) RecordsByType(ctx context.Context, rtype records.Type) ([]ledger.Entry, error) {
	parsed, err := records.Parse(string(rtype))
	if err != nil {
		return nil, err
	}
	return s.ledger.ByType(ctx, parsed)
}

// SubjectRecords returns the current ledger entries of every sealed
// record for a subject, across types.
func (s *Service) SubjectRecords(ctx context.Context, subjectID string) ([]ledger.Entry, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("integrity: empty subject id: %w", apperr.ErrInvalid)
	}
	return s.ledger.BySubject(ctx, subjectID)
}

// Trail returns the full chronological ledger trail for one key.
func (s *Service) Trail(ctx context.Context, recordKey string) (*AuditTrail, error) {
	entries, err := s.ledger.History(ctx, recordKey)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{
		RecordKey:    recordKey,
		ChangesCount: len(entries) - 1,
		Entries:      entries,
	}, nil
}

// AuditSubject summarizes every sealed record for one subject.
func (s *Service) AuditSubject(ctx context.Context, subjectID string) (*SubjectAudit, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("integrity: empty subject id: %w", apperr.ErrInvalid)
	}
	entries, err := s.ledger.BySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]int)
	for _, e := range entries {
		byType[string(e.RecordType)]++
	}
	return &SubjectAudit{
		SubjectID: subjectID,
		Total:     len(entries),
		ByType:    byType,
		Entries:   entries,
	}, nil
}

// RecentOperations returns the newest operation-log rows.
func (s *Service) RecentOperations(_ context.Context, limit int) ([]crossref.Operation, error) {
	if s.xref == nil {
		return nil, fmt.Errorf("integrity: no cross-reference store configured: %w", apperr.ErrNotFound)
	}
	return s.xref.RecentOperations(limit)
}

// Status reports backend availability without any network call.
func (s *Service) Status(_ context.Context) *Status {
	return &Status{
		LedgerConfigured: s.ledger.IsConfigured(),
		StoreConfigured:  s.store.IsConfigured(),
		Simulation:       s.ledger.Simulation(),
		Timestamp:        time.Now().UTC(),
	}
}

// DownloadReportFile fetches and decrypts a stored report file. The
// cross-reference row supplies the locator, IV, and original filename.
func (s *Service) DownloadReportFile(ctx context.Context, reportID string) (string, []byte, error) {
	if s.xref == nil {
		return "", nil, fmt.Errorf("integrity: no cross-reference store configured: %w", apperr.ErrConfiguration)
	}
	ref, err := s.xref.Get(records.Report, reportID)
	if err != nil {
		return "", nil, err
	}
	if ref.Locator == "" {
		return "", nil, fmt.Errorf("integrity: report %s has no stored file: %w", reportID, apperr.ErrNotFound)
	}
	if ref.IVHex == "" {
		return "", nil, fmt.Errorf("integrity: report %s: missing encryption iv: %w", reportID, apperr.ErrDecryption)
	}
	if s.cipher == nil {
		return "", nil, fmt.Errorf("integrity: no encryption key configured: %w", apperr.ErrConfiguration)
	}

	ciphertext, err := s.store.Download(ctx, ref.Locator)
	if err != nil {
		return "", nil, err
	}
	plaintext, err := s.cipher.DecryptFromStorage(ciphertext, ref.IVHex)
	if err != nil {
		return "", nil, err
	}

	name := ref.FileName
	if name == "" {
		name = "report_" + reportID + ".bin"
	}
	s.logOperation("download", records.Report, reportID, ref.TxID, "", "")
	return name, plaintext, nil
}

// writeCrossRef performs the secondary cross-reference upsert. Nil when
// no store is configured; a failed write is reported in the outcome and
// logged, never propagated.
func (s *Service) writeCrossRef(ref crossref.RecordRef) *CrossRefOutcome {
	if s.xref == nil {
		return nil
	}
	if err := s.xref.Upsert(ref); err != nil {
		s.logger.Warn("cross-reference write failed",
			"record_type", ref.RecordType, "record_id", ref.RecordID, "error", err.Error())
		return &CrossRefOutcome{Written: false, Error: err.Error()}
	}
	return &CrossRefOutcome{Written: true}
}

// logOperation appends to the operation log, best effort.
func (s *Service) logOperation(op string, rtype records.Type, recordID, txID, actorID, detail string) {
	if s.xref == nil {
		return
	}
	err := s.xref.LogOperation(crossref.Operation{
		Operation:  op,
		RecordType: rtype,
		RecordID:   recordID,
		TxID:       txID,
		ActorID:    actorID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn("operation log write failed", "operation", op, "error", err.Error())
	}
}

func (s *Service) publish(kind, recordKey string, attrs map[string]string) {
	if s.broker != nil {
		s.broker.PublishRecordEvent(kind, recordKey, attrs)
	}
}

// withActor folds the actor id into the ledger metadata.
func withActor(metadata map[string]string, actorID string) map[string]string {
	if actorID == "" {
		return metadata
	}
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["actorId"] = actorID
	return out
}
