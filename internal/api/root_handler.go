package api

import (
	"net/http"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// APIInfo is the static configuration served at the root endpoint so
// clients can discover limits and available models before submitting.
type APIInfo struct {
	Title             string
	Description       string
	Version           string
	MinAreaKm2        float64
	ExampleMaxAreaKm2 float64
	ProjectMaxAreaKm2 float64
	ExampleEnabled    bool
}

// RootHandler serves the discovery and health endpoints.
type RootHandler struct {
	info     APIInfo
	registry *domain.ModelRegistry
}

// NewRootHandler creates a RootHandler.
func NewRootHandler(info APIInfo, registry *domain.ModelRegistry) *RootHandler {
	if registry == nil {
		panic("registry cannot be nil for RootHandler")
	}
	return &RootHandler{
		info:     info,
		registry: registry,
	}
}

// GetRoot handles GET / requests.
func (h *RootHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, RootResponse{
		APIVersion:             h.info.Version,
		Title:                  h.info.Title,
		Description:            h.info.Description,
		MinAreaKm2:             h.info.MinAreaKm2,
		ExampleMaxAreaKm2:      h.info.ExampleMaxAreaKm2,
		ProjectMaxAreaKm2:      h.info.ProjectMaxAreaKm2,
		ExampleEndpointEnabled: h.info.ExampleEnabled,
		Models:                 h.registry.List(),
	})
}

// Health handles GET /health requests.
func (h *RootHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "healthy"})
}
