package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/integrity"
)

const maxReportBytes = 50 << 20 // 50 MB

// ReportHandler accepts and serves report files alongside their form
// digests. Uploads are multipart: a "meta" JSON part with the form
// fields and an optional "file" part with the document to encrypt.
type ReportHandler struct {
	svc *integrity.Service
}

// NewReportHandler creates a handler backed by the integrity service.
func NewReportHandler(svc *integrity.Service) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// reportParts parses the multipart body and returns the decoded meta
// part plus the optional file part.
func reportParts(w http.ResponseWriter, r *http.Request) (*ReportMetaRequest, string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBytes)

	if err := r.ParseMultipartForm(maxReportBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return nil, "", nil, false
	}

	raw := r.FormValue("meta")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'meta' field in multipart form"))
		return nil, "", nil, false
	}
	var meta ReportMetaRequest
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&meta); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON in 'meta' field"))
		return nil, "", nil, false
	}
	if len(meta.Fields) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("meta.fields are required"))
		return nil, "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return &meta, "", nil, true
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid 'file' field in multipart form"))
		return nil, "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return nil, "", nil, false
	}
	return &meta, header.Filename, data, true
}

// Store handles POST /api/v1/reports/{id} (multipart/form-data).
//
//	@Summary		Seal a report, encrypting and storing its file when present
//	@Tags			reports
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		path		string	true	"Report id"
//	@Param			meta	formData	string	true	"JSON with fields, subjectId, metadata, actorId"
//	@Param			file	formData	file	false	"Report document"
//	@Success		201		{object}	ReportResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reports/{id} [post]
func (h *ReportHandler) Store(w http.ResponseWriter, r *http.Request) {
	meta, name, data, ok := reportParts(w, r)
	if !ok {
		return
	}
	res, err := h.svc.StoreReport(r.Context(), integrity.ReportInput{
		RecordID:  chi.URLParam(r, "id"),
		SubjectID: meta.SubjectID,
		Fields:    canonical.Fields(meta.Fields),
		FileName:  name,
		FileData:  data,
		Metadata:  meta.Metadata,
		ActorID:   meta.ActorID,
	})
	if err != nil {
		writeServiceError(w, "store report", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Verify handles POST /api/v1/reports/{id}/verify (multipart/form-data).
// Without a file part only the form digest is checked and file
// verification is reported as undetermined.
//
//	@Summary		Verify a report form and optionally its file bytes
//	@Tags			reports
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		path		string	true	"Report id"
//	@Param			meta	formData	string	true	"JSON with fields"
//	@Param			file	formData	file	false	"Report document to re-hash"
//	@Success		200		{object}	VerificationResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reports/{id}/verify [post]
func (h *ReportHandler) Verify(w http.ResponseWriter, r *http.Request) {
	meta, _, data, ok := reportParts(w, r)
	if !ok {
		return
	}
	res, err := h.svc.VerifyReport(r.Context(), integrity.ReportVerifyInput{
		RecordID: chi.URLParam(r, "id"),
		Fields:   canonical.Fields(meta.Fields),
		FileData: data,
	})
	if err != nil {
		writeServiceError(w, "verify report", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Download handles GET /api/v1/reports/{id}/file.
//
//	@Summary		Download and decrypt a stored report file
//	@Tags			reports
//	@Produce		application/octet-stream
//	@Param			id	path		string	true	"Report id"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reports/{id}/file [get]
func (h *ReportHandler) Download(w http.ResponseWriter, r *http.Request) {
	name, data, err := h.svc.DownloadReportFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "download report file", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
