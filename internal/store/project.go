package store

import (
	"context"
	"database/sql"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// ProjectStore defines the interface for project data persistence.
type ProjectStore interface {
	// Create saves a new project to the store.
	// It handles domain validation internally.
	// Returns ErrDuplicate if a project with the same ID already exists.
	Create(ctx context.Context, project *domain.Project) error

	// GetByID retrieves a project by its unique ID.
	// Returns ErrProjectNotFound if the project does not exist.
	GetByID(ctx context.Context, id string) (*domain.Project, error)

	// List retrieves all projects ordered by creation time, newest first.
	// Returns an empty slice if no projects exist.
	List(ctx context.Context) ([]*domain.Project, error)

	// Exists reports whether a project with the given ID exists.
	Exists(ctx context.Context, id string) (bool, error)

	// UpdateParameters replaces the project's stored parameter groups.
	// Returns ErrProjectNotFound if the project does not exist.
	UpdateParameters(ctx context.Context, id string, params domain.Parameters) error

	// SetStatus updates the project's status and progress together.
	// A nil progress clears the stored value.
	// Returns ErrProjectNotFound if the project does not exist.
	SetStatus(ctx context.Context, id string, status domain.ProjectStatus, progress *float64) error

	// SetProgress updates only the project's progress indicator.
	// Returns ErrProjectNotFound if the project does not exist.
	SetProgress(ctx context.Context, id string, progress *float64) error

	// UpdateResults replaces the project's artifact references.
	// Returns ErrProjectNotFound if the project does not exist.
	UpdateResults(ctx context.Context, id string, results domain.ProjectResults) error

	// Delete removes a project and, through foreign keys, its tasks and
	// image records. Returns ErrProjectNotFound if the project does not exist.
	Delete(ctx context.Context, id string) error

	// WithTx returns a new ProjectStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	WithTx(tx *sql.Tx) ProjectStore
}
