package store

import (
	"context"
	"database/sql"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// ImageStore defines the interface for uploaded image metadata persistence.
type ImageStore interface {
	// Upsert saves an image record, replacing any previous record for the
	// same project and window. It handles domain validation internally.
	Upsert(ctx context.Context, image *domain.Image) error

	// GetByWindow retrieves the image uploaded for a project window.
	// Returns ErrImageNotFound if no image has been uploaded for it.
	GetByWindow(ctx context.Context, projectID string, window domain.ImageWindow) (*domain.Image, error)

	// ListByProject retrieves all images for a project ordered by window.
	// Returns an empty slice if the project has none.
	ListByProject(ctx context.Context, projectID string) ([]*domain.Image, error)

	// WithTx returns a new ImageStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ImageStore
}
