package api

import (
	"time"

	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/ledger"
)

// StoreRecordRequest is the request body for sealing a record. Field
// values keep their JSON types; bodies are decoded with UseNumber so
// numeric values survive canonicalization unchanged.
type StoreRecordRequest struct {
	Fields    map[string]any    `json:"fields" validate:"required"`
	List      []map[string]any  `json:"list,omitempty"`
	SubjectID string            `json:"subjectId,omitempty" example:"17"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ActorID   string            `json:"actorId,omitempty" example:"3"`
}

// VerifyRecordRequest is the request body for verifying a record
// against its ledger digest.
type VerifyRecordRequest struct {
	Fields map[string]any   `json:"fields" validate:"required"`
	List   []map[string]any `json:"list,omitempty"`
}

// BatchVerifyItem is one record inside a batch verification request.
type BatchVerifyItem struct {
	Type   string           `json:"type" example:"patient" validate:"required"`
	ID     string           `json:"id" example:"42" validate:"required"`
	Fields map[string]any   `json:"fields" validate:"required"`
	List   []map[string]any `json:"list,omitempty"`
}

// BatchVerifyRequest is the request body for POST /verify/batch.
type BatchVerifyRequest struct {
	Records []BatchVerifyItem `json:"records" validate:"required"`
}

// ReportMetaRequest is the decoded "meta" part of a multipart report
// request. Verification uses only Fields.
type ReportMetaRequest struct {
	Fields    map[string]any    `json:"fields" validate:"required"`
	SubjectID string            `json:"subjectId,omitempty" example:"17"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ActorID   string            `json:"actorId,omitempty" example:"3"`
}

// StoreResult is the seal response type (aliased from the domain layer).
type StoreResult = integrity.StoreResult

// VerificationResult is the verify response type (aliased from the domain layer).
type VerificationResult = integrity.VerificationResult

// BatchResult aggregates batch verification outcomes (aliased from the domain layer).
type BatchResult = integrity.BatchResult

// ReportResult is the report seal response type (aliased from the domain layer).
type ReportResult = integrity.ReportResult

// AuditTrail is the per-record history response (aliased from the domain layer).
type AuditTrail = integrity.AuditTrail

// SubjectAudit is the per-subject summary response (aliased from the domain layer).
type SubjectAudit = integrity.SubjectAudit

// ServiceStatus is the backend availability response (aliased from the domain layer).
type ServiceStatus = integrity.Status

// LedgerEntry is one committed ledger snapshot (aliased from the ledger layer).
type LedgerEntry = ledger.Entry

// EntryListResponse wraps ledger entry listings.
type EntryListResponse struct {
	Entries []ledger.Entry `json:"entries" validate:"required"`
	Total   int            `json:"total" example:"3" validate:"required"`
}

// OperationEntry is one operation-log row in the API response.
type OperationEntry struct {
	ID         int64     `json:"id" example:"12"`
	Operation  string    `json:"operation" example:"store"`
	RecordType string    `json:"recordType" example:"PATIENT"`
	RecordID   string    `json:"recordId" example:"42"`
	TxID       string    `json:"txId,omitempty"`
	ActorID    string    `json:"actorId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OperationsResponse wraps the recent operation log.
type OperationsResponse struct {
	Operations []OperationEntry `json:"operations" validate:"required"`
}
