package domain

// Model describes a deployed field delineation model that clients may
// select by ID. The set of models is fixed at startup from configuration.
type Model struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	License            string `json:"license,omitempty"`
	Version            string `json:"version,omitempty"`
	RequiresWindow     bool   `json:"requires_window"`
	RequiresPolygonize bool   `json:"requires_polygonize"`
	File               string `json:"-"`
}

// ModelRegistry resolves model IDs to their checkpoint files.
type ModelRegistry struct {
	models map[string]Model
	order  []string
}

// NewModelRegistry creates a registry from the configured model list,
// preserving the configured order for listings.
func NewModelRegistry(models []Model) *ModelRegistry {
	registry := &ModelRegistry{
		models: make(map[string]Model, len(models)),
		order:  make([]string, 0, len(models)),
	}
	for _, m := range models {
		if _, exists := registry.models[m.ID]; exists {
			continue
		}
		registry.models[m.ID] = m
		registry.order = append(registry.order, m.ID)
	}
	return registry
}

// Resolve looks up a model by ID.
// Returns a validation error when the ID is unknown.
func (r *ModelRegistry) Resolve(id string) (Model, error) {
	model, ok := r.models[id]
	if !ok {
		return Model{}, NewValidationError("Model with ID '%s' not found", id)
	}
	return model, nil
}

// List returns all registered models in configuration order.
func (r *ModelRegistry) List() []Model {
	models := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		models = append(models, r.models[id])
	}
	return models
}
