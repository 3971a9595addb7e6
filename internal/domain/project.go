package domain

import (
	"errors"
	"time"
)

// ProjectStatus represents the processing state of a project
type ProjectStatus string

// Possible project status values
const (
	ProjectStatusCreated   ProjectStatus = "created"
	ProjectStatusQueued    ProjectStatus = "queued"
	ProjectStatusRunning   ProjectStatus = "running"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusFailed    ProjectStatus = "failed"
)

// Common validation errors for Project
var (
	ErrEmptyProjectID       = errors.New("project ID cannot be empty")
	ErrEmptyProjectTitle    = errors.New("project title cannot be empty")
	ErrInvalidProjectStatus = errors.New("invalid project status")
	ErrInvalidProgress      = errors.New("project progress must be between 0 and 100")
)

// projectTransitions defines the allowed status transitions. A project may
// be re-queued from any state because submitting new parameters supersedes
// earlier runs.
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusCreated:   {ProjectStatusQueued},
	ProjectStatusQueued:    {ProjectStatusQueued, ProjectStatusRunning, ProjectStatusFailed},
	ProjectStatusRunning:   {ProjectStatusQueued, ProjectStatusCompleted, ProjectStatusFailed},
	ProjectStatusCompleted: {ProjectStatusQueued},
	ProjectStatusFailed:    {ProjectStatusQueued},
}

// ValidProjectTransition reports whether a project may move from one status
// to another.
func ValidProjectTransition(from, to ProjectStatus) bool {
	for _, allowed := range projectTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ResultRef points at a stored artifact produced by a completed task,
// together with the execution metrics recorded alongside it.
type ResultRef struct {
	Key       string         `json:"key"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ProjectResults holds the latest artifact of each kind produced for a
// project. Earlier artifacts are superseded, not accumulated.
type ProjectResults struct {
	Inference *ResultRef `json:"inference,omitempty"`
	Polygons  *ResultRef `json:"polygons,omitempty"`
}

// Project represents a stateful inference workspace. It accumulates
// parameters and uploaded imagery, and tracks the status of the processing
// pipeline run against them.
type Project struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Status     ProjectStatus  `json:"status"`
	Progress   *float64       `json:"progress"`
	Parameters Parameters     `json:"parameters"`
	Results    ProjectResults `json:"results"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewProject creates a new Project with the given ID and title. The ID is
// expected to be a generated project name (see GenerateProjectID). The
// project starts in the created status with no progress.
// Returns an error if validation fails.
func NewProject(id, title string) (*Project, error) {
	project := &Project{
		ID:         id,
		Title:      title,
		Status:     ProjectStatusCreated,
		Parameters: Parameters{},
		CreatedAt:  time.Now().UTC(),
	}

	if err := project.Validate(); err != nil {
		return nil, err
	}

	return project, nil
}

// Validate checks if the Project has valid data.
// Returns an error if any field fails validation.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrEmptyProjectID
	}

	if p.Title == "" {
		return ErrEmptyProjectTitle
	}

	if !isValidProjectStatus(p.Status) {
		return ErrInvalidProjectStatus
	}

	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return ErrInvalidProgress
	}

	return nil
}

// isValidProjectStatus checks if the given status is a valid ProjectStatus.
func isValidProjectStatus(status ProjectStatus) bool {
	switch status {
	case ProjectStatusCreated, ProjectStatusQueued, ProjectStatusRunning,
		ProjectStatusCompleted, ProjectStatusFailed:
		return true
	default:
		return false
	}
}

// DeriveProjectStatus computes a project's status from its task history.
// The latest task by creation time determines the status; a project with no
// tasks is in the created state. Ties on creation time break on task ID,
// matching the (created_at, id) ordering the stores query by, so derivation
// and store reads agree on which task is latest. Keeping this a pure
// function lets every transition write the same answer instead of
// maintaining parallel state.
func DeriveProjectStatus(tasks []*Task) ProjectStatus {
	if len(tasks) == 0 {
		return ProjectStatusCreated
	}

	latest := tasks[0]
	for _, t := range tasks[1:] {
		if t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		} else if t.CreatedAt.Equal(latest.CreatedAt) && t.ID.String() > latest.ID.String() {
			latest = t
		}
	}

	switch latest.Status {
	case TaskStatusPending:
		return ProjectStatusQueued
	case TaskStatusRunning:
		return ProjectStatusRunning
	case TaskStatusCompleted:
		return ProjectStatusCompleted
	case TaskStatusFailed:
		return ProjectStatusFailed
	default:
		return ProjectStatusCreated
	}
}
