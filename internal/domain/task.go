package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of work a task performs.
type TaskType string

// Supported task types
const (
	TaskTypeInference  TaskType = "inference"
	TaskTypePolygonize TaskType = "polygonize"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrEmptyTaskProjectID  = errors.New("task project ID cannot be empty")
	ErrInvalidTaskType     = errors.New("invalid task type")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrTaskTimestampsOrder = errors.New("task timestamps must be monotonically ordered")
	ErrTaskErrorState      = errors.New("task error message is only valid on failed tasks")
	ErrTaskResultState     = errors.New("task result is only valid on completed tasks")
)

// taskTransitions defines the allowed status transitions for a task.
// Completed and failed are terminal.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:   {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusCompleted: {},
	TaskStatusFailed:    {},
}

// ValidTaskTransition reports whether a task may move from one status to
// another. The running to pending transition exists only for crash
// recovery, where interrupted work is handed back to the queue.
func ValidTaskTransition(from, to TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a single unit of background work executed against a
// project, either an inference run or a polygonization of its output.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	ProjectID   string         `json:"project_id"`
	Type        TaskType       `json:"task_type"`
	Status      TaskStatus     `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// NewTask creates a new Task of the given type for a project. It generates
// a new UUID for the task ID, sets the status to pending and stamps the
// creation time. Returns an error if validation fails.
func NewTask(projectID string, taskType TaskType) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		ProjectID: projectID,
		Type:      taskType,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.ProjectID == "" {
		return ErrEmptyTaskProjectID
	}

	if !isValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.StartedAt != nil && t.StartedAt.Before(t.CreatedAt) {
		return ErrTaskTimestampsOrder
	}

	// A task cancelled before it started carries a completion time but no
	// start time.
	if t.CompletedAt != nil {
		if t.CompletedAt.Before(t.CreatedAt) {
			return ErrTaskTimestampsOrder
		}
		if t.StartedAt != nil && t.CompletedAt.Before(*t.StartedAt) {
			return ErrTaskTimestampsOrder
		}
	}

	if t.Error != "" && t.Status != TaskStatusFailed {
		return ErrTaskErrorState
	}

	if t.Result != nil && t.Status != TaskStatusCompleted {
		return ErrTaskResultState
	}

	return nil
}

// isValidTaskType checks if the given type is a valid TaskType.
func isValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeInference, TaskTypePolygonize:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
