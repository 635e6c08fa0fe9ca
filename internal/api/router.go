package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tessera-health/ledgerseal/internal/integrity"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *integrity.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	rh := NewReportHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Service status.
	r.Get("/status", h.Status)

	// Record sealing and verification.
	r.Post("/records/{type}/{id}", h.StoreRecord)
	r.Post("/records/{type}/{id}/verify", h.VerifyRecord)
	r.Post("/verify/batch", h.VerifyBatch)

	// Ledger reads.
	r.Get("/records/{type}/{id}", h.GetRecord)
	r.Get("/records/{type}", h.ListRecords)
	r.Get("/subjects/{id}/records", h.SubjectRecords)

	// Audit.
	r.Get("/audit/records/{key}", h.Trail)
	r.Get("/audit/subjects/{id}", h.SubjectAudit)
	r.Get("/audit/operations", h.Operations)

	// Reports carry an optional encrypted file alongside the form digest.
	r.Post("/reports/{id}", rh.Store)
	r.Post("/reports/{id}/verify", rh.Verify)
	r.Get("/reports/{id}/file", rh.Download)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
