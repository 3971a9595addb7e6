package api

import (
	"time"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// Common request/response structures

// CreateProjectRequest is the payload for creating a project.
type CreateProjectRequest struct {
	Title string `json:"title"`
}

// ExampleRequest is the payload for the synchronous example endpoint.
// Both sections are optional on the wire; the processing layer rejects
// requests without inference parameters.
type ExampleRequest struct {
	Inference *domain.InferenceParameters      `json:"inference"`
	Polygons  *domain.PolygonizationParameters `json:"polygons"`
}

// RootResponse describes the API configuration served at the root
// endpoint.
type RootResponse struct {
	APIVersion             string         `json:"api_version"`
	Title                  string         `json:"title"`
	Description            string         `json:"description"`
	MinAreaKm2             float64        `json:"min_area_km2"`
	ExampleMaxAreaKm2      float64        `json:"example_max_area_km2"`
	ProjectMaxAreaKm2      float64        `json:"project_max_area_km2"`
	ExampleEndpointEnabled bool           `json:"example_endpoint_enabled"`
	Models                 []domain.Model `json:"models"`
}

// ProjectResultLinks carries signed download URLs for a project's stored
// artifacts. A null link means the artifact does not exist.
type ProjectResultLinks struct {
	Inference *string `json:"inference"`
	Polygons  *string `json:"polygons"`
}

// ProjectResponse is the wire representation of a single project.
type ProjectResponse struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Status     string             `json:"status"`
	Progress   *float64           `json:"progress"`
	CreatedAt  string             `json:"created_at"`
	Parameters domain.Parameters  `json:"parameters"`
	Results    ProjectResultLinks `json:"results"`
}

// ProjectsResponse wraps the project listing.
type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// TaskSubmissionResponse acknowledges an accepted background task.
type TaskSubmissionResponse struct {
	Message   string `json:"message"`
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// TaskInfo summarizes a task inside the project status response.
type TaskInfo struct {
	TaskID      string  `json:"task_id"`
	TaskType    string  `json:"task_type"`
	TaskStatus  string  `json:"task_status"`
	CreatedAt   string  `json:"created_at"`
	StartedAt   *string `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
	Error       *string `json:"error"`
}

// ProjectStatusResponse aggregates project state with the latest task of
// each type.
type ProjectStatusResponse struct {
	ProjectID      string            `json:"project_id"`
	Status         string            `json:"status"`
	Progress       *float64          `json:"progress"`
	Parameters     domain.Parameters `json:"parameters"`
	Task           *TaskInfo         `json:"task,omitempty"`
	PolygonizeTask *TaskInfo         `json:"polygonize_task,omitempty"`
}

// TaskDetailsResponse is the full record of a single task.
type TaskDetailsResponse struct {
	TaskID      string         `json:"task_id"`
	TaskType    string         `json:"task_type"`
	Status      string         `json:"status"`
	ProjectID   string         `json:"project_id"`
	CreatedAt   string         `json:"created_at"`
	StartedAt   *string        `json:"started_at"`
	CompletedAt *string        `json:"completed_at"`
	Error       *string        `json:"error"`
	Result      map[string]any `json:"result"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// Timestamps serialize as RFC 3339 UTC with the Z designator.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// taskToInfo converts a task to its status summary. Returns nil for a nil
// task so handlers can pass through absent tasks.
func taskToInfo(t *domain.Task) *TaskInfo {
	if t == nil {
		return nil
	}
	info := &TaskInfo{
		TaskID:      t.ID.String(),
		TaskType:    string(t.Type),
		TaskStatus:  string(t.Status),
		CreatedAt:   formatTime(t.CreatedAt),
		StartedAt:   formatTimePtr(t.StartedAt),
		CompletedAt: formatTimePtr(t.CompletedAt),
	}
	if t.Error != "" {
		info.Error = &t.Error
	}
	return info
}

// taskToDetails converts a task to its full detail representation.
func taskToDetails(t *domain.Task) TaskDetailsResponse {
	details := TaskDetailsResponse{
		TaskID:      t.ID.String(),
		TaskType:    string(t.Type),
		Status:      string(t.Status),
		ProjectID:   t.ProjectID,
		CreatedAt:   formatTime(t.CreatedAt),
		StartedAt:   formatTimePtr(t.StartedAt),
		CompletedAt: formatTimePtr(t.CompletedAt),
		Result:      t.Result,
	}
	if t.Error != "" {
		details.Error = &t.Error
	}
	return details
}
