package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// Handler holds API route handlers.
type Handler struct {
	svc *integrity.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *integrity.Service) *Handler {
	return &Handler{svc: svc}
}

func toFieldList(in []map[string]any) []canonical.Fields {
	if len(in) == 0 {
		return nil
	}
	out := make([]canonical.Fields, 0, len(in))
	for _, m := range in {
		out = append(out, canonical.Fields(m))
	}
	return out
}

// decodeBody decodes a JSON request body with UseNumber so numeric
// field values reach the digest builder without float conversion.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// Status handles GET /api/v1/status.
//
//	@Summary		Report ledger and store availability
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	ServiceStatus
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// StoreRecord handles POST /api/v1/records/{type}/{id}.
//
//	@Summary		Seal a record digest into the ledger
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string				true	"Record type"	Enums(patient, visit, prescription, invoice, appointment)
//	@Param			id		path		string				true	"Record id"
//	@Param			body	body		StoreRecordRequest	true	"Record fields to digest"
//	@Success		201		{object}	StoreResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type}/{id} [post]
func (h *Handler) StoreRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req StoreRecordRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Fields) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("fields are required"))
		return
	}
	res, err := h.svc.StoreRecord(r.Context(), integrity.StoreInput{
		RecordType: records.Type(chi.URLParam(r, "type")),
		RecordID:   chi.URLParam(r, "id"),
		SubjectID:  req.SubjectID,
		Fields:     canonical.Fields(req.Fields),
		List:       toFieldList(req.List),
		Metadata:   req.Metadata,
		ActorID:    req.ActorID,
	})
	if err != nil {
		writeServiceError(w, "store record", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// VerifyRecord handles POST /api/v1/records/{type}/{id}/verify.
//
// The response is always 200 when the request itself is well formed;
// the integrity outcome (VALID, TAMPERED, NOT_FOUND, ERROR) is carried
// in the body.
//
//	@Summary		Verify a record against its ledger digest
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string				true	"Record type"
//	@Param			id		path		string				true	"Record id"
//	@Param			body	body		VerifyRecordRequest	true	"Current record fields"
//	@Success		200		{object}	VerificationResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type}/{id}/verify [post]
func (h *Handler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req VerifyRecordRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Fields) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("fields are required"))
		return
	}
	res, err := h.svc.VerifyRecord(r.Context(), integrity.VerifyInput{
		RecordType: records.Type(chi.URLParam(r, "type")),
		RecordID:   chi.URLParam(r, "id"),
		Fields:     canonical.Fields(req.Fields),
		List:       toFieldList(req.List),
	})
	if err != nil {
		writeServiceError(w, "verify record", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// VerifyBatch handles POST /api/v1/verify/batch.
//
//	@Summary		Verify multiple records in one call
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BatchVerifyRequest	true	"Records to verify"
//	@Success		200		{object}	BatchResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/verify/batch [post]
func (h *Handler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req BatchVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("records are required"))
		return
	}
	inputs := make([]integrity.VerifyInput, 0, len(req.Records))
	for _, item := range req.Records {
		inputs = append(inputs, integrity.VerifyInput{
			RecordType: records.Type(item.Type),
			RecordID:   item.ID,
			Fields:     canonical.Fields(item.Fields),
			List:       toFieldList(item.List),
		})
	}
	res, err := h.svc.VerifyBatch(r.Context(), inputs)
	if err != nil {
		writeServiceError(w, "verify batch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRecord handles GET /api/v1/records/{type}/{id}.
//
//	@Summary		Get the current ledger entry for a record
//	@Tags			records
//	@Produce		json
//	@Param			type	path		string	true	"Record type"
//	@Param			id		path		string	true	"Record id"
//	@Success		200		{object}	LedgerEntry
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type}/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.CurrentEntry(r.Context(), records.Type(chi.URLParam(r, "type")), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListRecords handles GET /api/v1/records/{type}.
//
//	@Summary		List current ledger entries of one record type
//	@Tags			records
//	@Produce		json
//	@Param			type	path		string	true	"Record type"
//	@Success		200		{object}	EntryListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{type} [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.RecordsByType(r.Context(), records.Type(chi.URLParam(r, "type")))
	if err != nil {
		writeServiceError(w, "list records", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Total: len(entries)})
}

// SubjectRecords handles GET /api/v1/subjects/{id}/records.
//
//	@Summary		List current ledger entries for a subject
//	@Tags			subjects
//	@Produce		json
//	@Param			id	path		string	true	"Subject id"
//	@Success		200	{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/subjects/{id}/records [get]
func (h *Handler) SubjectRecords(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.SubjectRecords(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "subject records", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Total: len(entries)})
}

// Trail handles GET /api/v1/audit/records/{key}.
//
//	@Summary		Get the full append trail for a ledger key
//	@Tags			audit
//	@Produce		json
//	@Param			key	path		string	true	"Ledger key (e.g. patient_42)"
//	@Success		200	{object}	AuditTrail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/audit/records/{key} [get]
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("key is required"))
		return
	}
	trail, err := h.svc.Trail(r.Context(), key)
	if err != nil {
		writeServiceError(w, "audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

// SubjectAudit handles GET /api/v1/audit/subjects/{id}.
//
//	@Summary		Summarize every sealed record for a subject
//	@Tags			audit
//	@Produce		json
//	@Param			id	path		string	true	"Subject id"
//	@Success		200	{object}	SubjectAudit
//	@Security		BearerAuth
//	@Router			/audit/subjects/{id} [get]
func (h *Handler) SubjectAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.svc.AuditSubject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "subject audit", err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// Operations handles GET /api/v1/audit/operations.
//
//	@Summary		List recent integrity operations
//	@Tags			audit
//	@Produce		json
//	@Param			limit	query		int	false	"Max rows (default 50)"
//	@Success		200		{object}	OperationsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/audit/operations [get]
func (h *Handler) Operations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ops, err := h.svc.RecentOperations(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "operations", err)
		return
	}
	out := make([]OperationEntry, 0, len(ops))
	for _, op := range ops {
		out = append(out, OperationEntry{
			ID:         op.ID,
			Operation:  op.Operation,
			RecordType: string(op.RecordType),
			RecordID:   op.RecordID,
			TxID:       op.TxID,
			ActorID:    op.ActorID,
			Detail:     op.Detail,
			CreatedAt:  op.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, OperationsResponse{Operations: out})
}
