// Package apperror defines the typed errors shared by the session core and
// the identity API.
//
// Every AppError wraps one sentinel so callers branch with errors.Is and
// read the human-readable text with errors.As.
package apperror

import (
	"errors"
	"fmt"
)

// DefaultRemoteMessage is shown when the identity API rejects a call without
// saying why.
const DefaultRemoteMessage = "Something went wrong. Please try again."

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// Session taxonomy.
	ErrSessionCorrupt   = errors.New("session corrupt")
	ErrRemoteAuth       = errors.New("remote auth failure")
	ErrNoActiveSession  = errors.New("no active session")
	ErrLogoutBestEffort = errors.New("remote logout failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned for missing or bad credentials (HTTP 401).
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// SessionCorrupt describes a stored record that failed to parse. It is only
// ever logged; the session store recovers by discarding the record.
func SessionCorrupt(key string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrSessionCorrupt, cause),
		Message: fmt.Sprintf("stored value under %q is not a valid session record", key),
	}
}

// RemoteAuthFailure wraps a rejection from the identity API. The message is
// the one the API sent, or DefaultRemoteMessage when it sent none.
func RemoteAuthFailure(message string) *AppError {
	if message == "" {
		message = DefaultRemoteMessage
	}
	return &AppError{
		Err:     ErrRemoteAuth,
		Message: message,
	}
}

// NoActiveSession is returned when op needs a signed-in user and there is none.
func NoActiveSession(op string) *AppError {
	return &AppError{
		Err:     ErrNoActiveSession,
		Message: fmt.Sprintf("%s requires a signed-in user", op),
	}
}

// LogoutBestEffort records a failed server-side logout. The local session is
// cleared regardless, so this is logged and never shown.
func LogoutBestEffort(cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrLogoutBestEffort, cause),
		Message: "server did not acknowledge logout",
	}
}

// Message extracts the user-facing text of err. Errors that carry no
// AppError fall back to DefaultRemoteMessage.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return DefaultRemoteMessage
}
