package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// TaskStore implements the store.TaskStore interface using SQLite as the
// storage backend. Status transitions are expressed as conditional
// updates so concurrent writers cannot move a task out of a terminal
// state.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewTaskStore creates a new SQLite implementation of the TaskStore
// interface. If logger is nil, a default logger will be used.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &TaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
//
// The insert only applies when the project has no pending or running task
// of the same type. SQLite serializes writers, so the existence check and
// the insert are effectively one atomic step.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, project_id, task_type, status, error, created_at)
		SELECT ?, ?, ?, ?, '', ?
		WHERE NOT EXISTS (
			SELECT 1 FROM tasks
			WHERE project_id = ? AND task_type = ? AND status IN ('pending', 'running')
		)
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		task.ID.String(),
		task.ProjectID,
		task.Type,
		task.Status,
		task.CreatedAt,
		task.ProjectID,
		task.Type,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("project_id", task.ProjectID))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return store.ErrDuplicateTask
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("project_id", task.ProjectID),
		slog.String("task_type", string(task.Type)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := selectTaskColumns + ` WHERE id = ?`
	return s.scanTask(s.db.QueryRowContext(ctx, query, id.String()))
}

// ListByProject implements store.TaskStore.ListByProject
func (s *TaskStore) ListByProject(ctx context.Context, projectID string) ([]*domain.Task, error) {
	query := selectTaskColumns + ` WHERE project_id = ? ORDER BY created_at, id`
	return s.queryTasks(ctx, query, projectID)
}

// LatestByType implements store.TaskStore.LatestByType
func (s *TaskStore) LatestByType(ctx context.Context, projectID string, taskType domain.TaskType) (*domain.Task, error) {
	query := selectTaskColumns + `
		WHERE project_id = ? AND task_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return s.scanTask(s.db.QueryRowContext(ctx, query, projectID, taskType))
}

// ListByStatus implements store.TaskStore.ListByStatus
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := selectTaskColumns + ` WHERE status = ? ORDER BY created_at, id`
	return s.queryTasks(ctx, query, status)
}

// MarkRunning implements store.TaskStore.MarkRunning
func (s *TaskStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`
	return s.transition(ctx, id, "mark running", query,
		domain.TaskStatusRunning, startedAt.UTC(), id.String(), domain.TaskStatusPending)
}

// MarkCompleted implements store.TaskStore.MarkCompleted
func (s *TaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, result map[string]any) error {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal task result: %w", err)
		}
		resultJSON = string(data)
	}

	query := `
		UPDATE tasks
		SET status = ?, completed_at = ?, result = ?
		WHERE id = ? AND status = ?
	`
	return s.transition(ctx, id, "mark completed", query,
		domain.TaskStatusCompleted, completedAt.UTC(), resultJSON, id.String(), domain.TaskStatusRunning)
}

// MarkFailed implements store.TaskStore.MarkFailed
func (s *TaskStore) MarkFailed(ctx context.Context, id uuid.UUID, completedAt time.Time, message string) error {
	query := `
		UPDATE tasks
		SET status = ?, completed_at = ?, error = ?
		WHERE id = ? AND status IN (?, ?)
	`
	return s.transition(ctx, id, "mark failed", query,
		domain.TaskStatusFailed, completedAt.UTC(), message, id.String(),
		domain.TaskStatusPending, domain.TaskStatusRunning)
}

// ResetRunning implements store.TaskStore.ResetRunning
func (s *TaskStore) ResetRunning(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = ?, started_at = NULL
		WHERE status = ?
	`
	result, err := s.db.ExecContext(ctx, query, domain.TaskStatusPending, domain.TaskStatusRunning)
	if err != nil {
		log.Error("failed to reset running tasks", slog.String("error", err.Error()))
		return 0, err
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if reset > 0 {
		log.Info("reset interrupted tasks to pending", slog.Int64("count", reset))
	}
	return reset, nil
}

// transition runs a conditional status update and distinguishes a missing
// task from one that is not in the expected source state.
func (s *TaskStore) transition(ctx context.Context, id uuid.UUID, op, query string, args ...any) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+op,
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrInvalidTransition
	}

	return nil
}

const selectTaskColumns = `
	SELECT id, project_id, task_type, status, error, result,
	       created_at, started_at, completed_at
	FROM tasks`

// queryTasks runs a multi-row task query.
func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := s.logger

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}

// scanTask reads one task row.
func (s *TaskStore) scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var id string
	var result sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&id,
		&task.ProjectID,
		&task.Type,
		&task.Status,
		&task.Error,
		&result,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, err
	}

	task.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task ID %q: %w", id, err)
	}

	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &task.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task result: %w", err)
		}
	}

	task.CreatedAt = task.CreatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}

	return &task, nil
}
