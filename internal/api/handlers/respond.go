package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soundtrace/backend/internal/shared/apperr"
)

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps application errors onto HTTP statuses
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrDependencyMissing):
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, map[string]string{"error": err.Error()})
}
