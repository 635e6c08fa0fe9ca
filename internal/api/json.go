package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeServiceError maps domain errors onto HTTP statuses. Ledger
// verification outcomes are not errors; only invalid input and backend
// failures reach this path.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("ledger timeout"))
	case errors.Is(err, apperr.ErrNetwork), errors.Is(err, apperr.ErrEncoding):
		writeJSON(w, http.StatusBadGateway, errorBody("ledger unavailable"))
	case errors.Is(err, apperr.ErrConfiguration):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("backend not configured"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
