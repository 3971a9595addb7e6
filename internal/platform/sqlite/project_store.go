package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// ProjectStore implements the store.ProjectStore interface using SQLite
// as the storage backend.
type ProjectStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewProjectStore creates a new SQLite implementation of the ProjectStore
// interface. It accepts a database connection or transaction managed by
// the caller. If logger is nil, a default logger will be used.
func NewProjectStore(db store.DBTX, logger *slog.Logger) *ProjectStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ProjectStore{
		db:     db,
		logger: logger.With(slog.String("component", "project_store")),
	}
}

// Ensure ProjectStore implements store.ProjectStore interface
var _ store.ProjectStore = (*ProjectStore)(nil)

// WithTx returns a new ProjectStore instance that uses the provided transaction.
func (s *ProjectStore) WithTx(tx *sql.Tx) store.ProjectStore {
	return &ProjectStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.ProjectStore.Create
func (s *ProjectStore) Create(ctx context.Context, project *domain.Project) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := project.Validate(); err != nil {
		log.Warn("project validation failed during create",
			slog.String("error", err.Error()),
			slog.String("project_id", project.ID))
		return err
	}

	params, err := json.Marshal(project.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal project parameters: %w", err)
	}

	results, err := json.Marshal(project.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal project results: %w", err)
	}

	query := `
		INSERT INTO projects (id, title, status, progress, parameters, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		project.ID,
		project.Title,
		project.Status,
		project.Progress,
		string(params),
		string(results),
		project.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create project",
			slog.String("error", err.Error()),
			slog.String("project_id", project.ID))
		return err
	}

	log.Info("project created",
		slog.String("project_id", project.ID),
		slog.String("title", project.Title))
	return nil
}

// GetByID implements store.ProjectStore.GetByID
func (s *ProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	query := `
		SELECT id, title, status, progress, parameters, results, created_at
		FROM projects
		WHERE id = ?
	`
	return s.scanProject(s.db.QueryRowContext(ctx, query, id))
}

// List implements store.ProjectStore.List
func (s *ProjectStore) List(ctx context.Context) ([]*domain.Project, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, title, status, progress, parameters, results, created_at
		FROM projects
		ORDER BY created_at DESC, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list projects", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	projects := []*domain.Project{}
	for rows.Next() {
		project, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, err
	}

	return projects, nil
}

// Exists implements store.ProjectStore.Exists
func (s *ProjectStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateParameters implements store.ProjectStore.UpdateParameters
func (s *ProjectStore) UpdateParameters(ctx context.Context, id string, params domain.Parameters) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal project parameters: %w", err)
	}

	return s.exec(ctx, "update parameters", id,
		`UPDATE projects SET parameters = ? WHERE id = ?`, string(data), id)
}

// SetStatus implements store.ProjectStore.SetStatus
func (s *ProjectStore) SetStatus(ctx context.Context, id string, status domain.ProjectStatus, progress *float64) error {
	return s.exec(ctx, "set status", id,
		`UPDATE projects SET status = ?, progress = ? WHERE id = ?`, status, progress, id)
}

// SetProgress implements store.ProjectStore.SetProgress
func (s *ProjectStore) SetProgress(ctx context.Context, id string, progress *float64) error {
	return s.exec(ctx, "set progress", id,
		`UPDATE projects SET progress = ? WHERE id = ?`, progress, id)
}

// UpdateResults implements store.ProjectStore.UpdateResults
func (s *ProjectStore) UpdateResults(ctx context.Context, id string, results domain.ProjectResults) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal project results: %w", err)
	}

	return s.exec(ctx, "update results", id,
		`UPDATE projects SET results = ? WHERE id = ?`, string(data), id)
}

// Delete implements store.ProjectStore.Delete
func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	err := s.exec(ctx, "delete", id, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}

	log.Info("project deleted", slog.String("project_id", id))
	return nil
}

// exec runs a write statement that must affect exactly one project row
// and maps the zero-rows case to ErrProjectNotFound.
func (s *ProjectStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+op,
			slog.String("error", err.Error()),
			slog.String("project_id", id))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return store.ErrProjectNotFound
	}

	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProject reads one project row including its JSON columns.
func (s *ProjectStore) scanProject(row rowScanner) (*domain.Project, error) {
	var project domain.Project
	var progress sql.NullFloat64
	var params, results string

	err := row.Scan(
		&project.ID,
		&project.Title,
		&project.Status,
		&progress,
		&params,
		&results,
		&project.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProjectNotFound
		}
		return nil, err
	}

	if progress.Valid {
		project.Progress = &progress.Float64
	}

	if err := json.Unmarshal([]byte(params), &project.Parameters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project parameters: %w", err)
	}

	if err := json.Unmarshal([]byte(results), &project.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project results: %w", err)
	}

	project.CreatedAt = project.CreatedAt.UTC()

	return &project, nil
}
