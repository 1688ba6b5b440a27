package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"academy-lock/internal/domain"
)

// WriteError maps err onto a status code. A failed acquisition is a conflict
// the client may retry shortly.
func WriteError(w http.ResponseWriter, err error) {
	var lae *domain.LockAcquisitionError
	switch {
	case errors.As(err, &lae):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: lae.Error()})
	case errors.Is(err, domain.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrEmptyKey):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, errUnknownLease):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "lock store unavailable"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
