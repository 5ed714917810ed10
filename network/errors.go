package network

import (
	"encoding/json"
	"errors"
	"net/http"

	"lanshare/catalog"
	"lanshare/logger"
	"lanshare/models"
	"lanshare/storage"
)

const (
	kindPayloadTooLarge = "payload_too_large"
	kindNotFound        = "not_found"
	kindBadRequest      = "bad_request"
	kindIOFailure       = "io_failure"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugf("network: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, models.ErrorResponse{
		Status:  "error",
		Error:   kind,
		Message: message,
	})
}

// classify maps a domain error to an HTTP status and error kind. Unknown
// errors are I/O failures and get a generic message.
func classify(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, catalog.ErrPayloadTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, kindPayloadTooLarge, "file too large"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, kindNotFound, "file not found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, kindNotFound, "transfer not found"
	case errors.Is(err, catalog.ErrInvalidName):
		return http.StatusBadRequest, kindBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, kindIOFailure, "internal I/O failure"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, kind, message := classify(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("network: %v", err)
	}
	writeError(w, status, kind, message)
}
