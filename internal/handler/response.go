package handler

// Every response body is JSON. Errors always have the api.ErrorResponse
// shape, {"error": "conflict", "message": "..."}, whatever the status, so
// the client can show the message without caring about the code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
)

// maxBodyBytes caps request bodies; every request here is a few fields.
const maxBodyBytes = 1 << 16

// writeJSON sets the header, then the status, then the body. Headers set
// after the first Write are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("", "Request body must be valid JSON")
	}
	return nil
}

// writeError maps a domain error to its status code. The service layer
// knows nothing about HTTP; this is the only place the mapping lives.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, api.ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	// Never echo an unknown error; it may carry SQL or file paths.
	writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
