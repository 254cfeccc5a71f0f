// Package apperr defines the error taxonomy shared by the HTTP handlers
// and the auto-reply pipeline, and its mapping to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors. Callers wrap these with fmt.Errorf("%w: ...") so that
// errors.Is classification survives wrapping.
var (
	// ErrUnauthorized covers missing or invalid bearer tokens and failed
	// webhook signature or verify-token checks.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation covers malformed request bodies and unknown actions.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers referenced rows that do not exist or are not
	// owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrExternalService covers non-success responses and timeouts from
	// the Threads graph API and the Gemini API.
	ErrExternalService = errors.New("external service error")
)

// HTTPStatus maps an error to the status code surfaced to synchronous
// dashboard callers. Webhook delivery handling never uses this mapping for
// downstream failures; those are logged and answered 200 regardless.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExternalService):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
