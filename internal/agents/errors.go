package agents

import (
	"errors"
	"net/http"
)

// Domain errors for capability operations.
var (
	// ErrUnknownCapability indicates a workflow referenced an unregistered capability.
	ErrUnknownCapability = errors.New("unknown agent capability")
	// ErrMissingParameter indicates a built-in capability was invoked without a required parameter.
	ErrMissingParameter = errors.New("missing required parameter")
)

// MapHTTPStatus maps capability errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnknownCapability) || errors.Is(err, ErrMissingParameter) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
