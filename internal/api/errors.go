package api

import (
	"errors"
	"net/http"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service/auth"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes based on
// the error type. This keeps the status mapping in one place instead of
// scattering it across handlers.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Request validation errors
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict

	// Capacity errors from the synchronous example path
	case errors.Is(err, example.ErrBusy),
		errors.Is(err, example.ErrDisabled):
		return http.StatusServiceUnavailable

	case errors.Is(err, example.ErrTimeout):
		return http.StatusGatewayTimeout

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for the error.
// Validation messages are written for clients and pass through verbatim;
// everything else maps to a fixed phrase so internal details never leak.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return err.Error()

	// Authentication errors
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	// Result retrieval errors. These wrap store.ErrNotFound, so they
	// must be matched before the generic not-found cases.
	case errors.Is(err, service.ErrNoResults):
		return "No inference results found for this project"

	case errors.Is(err, service.ErrNoGeoJSONResults):
		return "No GeoJSON results found for this project"

	case errors.Is(err, service.ErrNoImageResults):
		return "No image results found for this project"

	// Not found errors
	case errors.Is(err, store.ErrProjectNotFound):
		return "Project not found"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrImageNotFound):
		return "Image not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	// Conflict errors
	case errors.Is(err, store.ErrDuplicateTask):
		return "Project already has an active task of this type"

	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, store.ErrInvalidTransition):
		return "Operation conflicts with the current project state"

	// Capacity errors
	case errors.Is(err, example.ErrBusy):
		return "Server is busy, try again later"

	case errors.Is(err, example.ErrTimeout):
		return "Request timed out. Please try a smaller area."

	case errors.Is(err, example.ErrDisabled):
		return "Example endpoint is disabled"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps the error to a status code and a safe message and
// writes the response. defaultMessage overrides the generic phrase for
// server errors, letting handlers say which operation failed.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMessage != "" {
		message = defaultMessage
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
