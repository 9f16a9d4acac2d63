package pipeline

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidTransition rejects an out-of-order or duplicate stage
	// advance. The recorded state is never changed by a stale signal.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrSessionActive rejects starting a second batch run, or a global
	// reset, while a session is still running.
	ErrSessionActive = errors.New("a pipeline session is already active")

	ErrDocumentNotFound = errors.New("document not tracked")
	ErrSessionNotFound  = errors.New("session not found")
)

// MapHTTPStatus translates pipeline errors to control-surface status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
