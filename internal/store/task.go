package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// TaskStore defines the interface for task data persistence.
//
// Status transitions are compare-and-set: each Mark method only applies
// when the task is currently in the expected source state, so concurrent
// writers (workers, cancellation, recovery) cannot clobber a terminal
// state with a stale update.
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns ErrDuplicateTask if the project already has a pending or
	// running task of the same type.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByProject retrieves all tasks for a project ordered by creation
	// time, oldest first. Returns an empty slice if the project has none.
	ListByProject(ctx context.Context, projectID string) ([]*domain.Task, error)

	// LatestByType retrieves the most recently created task of the given
	// type for a project. Returns ErrTaskNotFound if there is none.
	LatestByType(ctx context.Context, projectID string, taskType domain.TaskType) (*domain.Task, error)

	// ListByStatus retrieves all tasks in the given status ordered by
	// creation time, oldest first.
	ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// MarkRunning transitions a pending task to running and stamps its
	// start time. Returns ErrTaskNotFound if the task does not exist and
	// ErrInvalidTransition if it is not pending.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// MarkCompleted transitions a running task to completed, stamps its
	// completion time and records the result. Returns ErrTaskNotFound if
	// the task does not exist and ErrInvalidTransition if it is not running.
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, result map[string]any) error

	// MarkFailed transitions a pending or running task to failed, stamps
	// its completion time and records the error message. Returns
	// ErrTaskNotFound if the task does not exist and ErrInvalidTransition
	// if it is already terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, completedAt time.Time, message string) error

	// ResetRunning moves all running tasks back to pending and clears
	// their start times. Used on startup to recover work interrupted by a
	// crash. Returns the number of tasks reset.
	ResetRunning(ctx context.Context) (int64, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	WithTx(tx *sql.Tx) TaskStore
}
