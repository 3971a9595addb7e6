package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service/auth"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation error", domain.NewValidationError("Title is required"), http.StatusBadRequest},
		{"wrapped validation error", fmt.Errorf("create: %w", domain.NewValidationError("bad")), http.StatusBadRequest},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"project not found", store.ErrProjectNotFound, http.StatusNotFound},
		{"task not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"missing results", service.ErrNoResults, http.StatusNotFound},
		{"duplicate task", store.ErrDuplicateTask, http.StatusConflict},
		{"invalid transition", store.ErrInvalidTransition, http.StatusConflict},
		{"example busy", example.ErrBusy, http.StatusServiceUnavailable},
		{"example disabled", example.ErrDisabled, http.StatusServiceUnavailable},
		{"example timeout", example.ErrTimeout, http.StatusGatewayTimeout},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, "An unexpected error occurred"},
		{"validation passes through", domain.NewValidationError("Window must be 'a' or 'b'"), "Window must be 'a' or 'b'"},
		{"expired token", auth.ErrExpiredToken, "Token expired"},
		{"invalid token", auth.ErrInvalidToken, "Invalid token"},
		{"missing results", service.ErrNoResults, "No inference results found for this project"},
		{"missing geojson", service.ErrNoGeoJSONResults, "No GeoJSON results found for this project"},
		{"missing raster", service.ErrNoImageResults, "No image results found for this project"},
		{"project not found", store.ErrProjectNotFound, "Project not found"},
		{"task not found", store.ErrTaskNotFound, "Task not found"},
		{"image not found", store.ErrImageNotFound, "Image not found"},
		{"generic not found", store.ErrNotFound, "Resource not found"},
		{"duplicate task", store.ErrDuplicateTask, "Project already has an active task of this type"},
		{"invalid transition", store.ErrInvalidTransition, "Operation conflicts with the current project state"},
		{"example busy", example.ErrBusy, "Server is busy, try again later"},
		{"example timeout", example.ErrTimeout, "Request timed out. Please try a smaller area."},
		{"example disabled", example.ErrDisabled, "Example endpoint is disabled"},
		{"internal details hidden", errors.New("dial tcp 10.0.0.3:5432: connect: connection refused"), "An unexpected error occurred"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestHandleAPIError(t *testing.T) {
	t.Parallel()

	request := func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "/v1/projects/x", nil)
	}

	t.Run("validation message reaches the client", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		HandleAPIError(rec, request(), domain.NewValidationError("Window must be 'a' or 'b'"), "Failed to upload image")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"Window must be 'a' or 'b'"}`, rec.Body.String())
	})

	t.Run("server errors use the operation message", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		HandleAPIError(rec, request(), errors.New("disk full"), "Failed to upload image")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Failed to upload image"}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "disk full")
	})

	t.Run("server errors without an operation message stay generic", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		HandleAPIError(rec, request(), errors.New("disk full"), "")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"An unexpected error occurred"}`, rec.Body.String())
	})

	t.Run("operation message does not override client errors", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		HandleAPIError(rec, request(), store.ErrProjectNotFound, "Failed to retrieve project")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Project not found"}`, rec.Body.String())
	})
}
