package workflows

import (
	"errors"
	"net/http"
)

// Domain errors for workflow operations.
var (
	ErrNotFound        = errors.New("workflow not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicate       = errors.New("workflow already exists")
	ErrValidation      = errors.New("invalid workflow request")
	ErrAlreadyTerminal = errors.New("workflow already terminal")
	ErrNotAwaiting     = errors.New("task is not awaiting approval")
)

// MapHTTPStatus maps workflow domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTaskNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrAlreadyTerminal) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotAwaiting) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
