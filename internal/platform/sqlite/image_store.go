package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// ImageStore implements the store.ImageStore interface using SQLite as
// the storage backend.
type ImageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewImageStore creates a new SQLite implementation of the ImageStore
// interface. If logger is nil, a default logger will be used.
func NewImageStore(db store.DBTX, logger *slog.Logger) *ImageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ImageStore{
		db:     db,
		logger: logger.With(slog.String("component", "image_store")),
	}
}

// Ensure ImageStore implements store.ImageStore interface
var _ store.ImageStore = (*ImageStore)(nil)

// WithTx returns a new ImageStore instance that uses the provided transaction.
func (s *ImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	return &ImageStore{
		db:     tx,
		logger: s.logger,
	}
}

// Upsert implements store.ImageStore.Upsert
func (s *ImageStore) Upsert(ctx context.Context, image *domain.Image) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := image.Validate(); err != nil {
		log.Warn("image validation failed during upsert",
			slog.String("error", err.Error()),
			slog.String("project_id", image.ProjectID))
		return err
	}

	query := `
		INSERT INTO images (id, project_id, window, object_key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, window)
		DO UPDATE SET id = excluded.id,
		              object_key = excluded.object_key,
		              created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		image.ID.String(),
		image.ProjectID,
		image.Window,
		image.Key,
		image.CreatedAt,
	)
	if err != nil {
		log.Error("failed to upsert image",
			slog.String("error", err.Error()),
			slog.String("project_id", image.ProjectID),
			slog.String("window", string(image.Window)))
		return err
	}

	log.Info("image stored",
		slog.String("project_id", image.ProjectID),
		slog.String("window", string(image.Window)),
		slog.String("key", image.Key))
	return nil
}

// GetByWindow implements store.ImageStore.GetByWindow
func (s *ImageStore) GetByWindow(ctx context.Context, projectID string, window domain.ImageWindow) (*domain.Image, error) {
	query := `
		SELECT id, project_id, window, object_key, created_at
		FROM images
		WHERE project_id = ? AND window = ?
	`
	return s.scanImage(s.db.QueryRowContext(ctx, query, projectID, window))
}

// ListByProject implements store.ImageStore.ListByProject
func (s *ImageStore) ListByProject(ctx context.Context, projectID string) ([]*domain.Image, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, project_id, window, object_key, created_at
		FROM images
		WHERE project_id = ?
		ORDER BY window
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		log.Error("failed to list images",
			slog.String("error", err.Error()),
			slog.String("project_id", projectID))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	images := []*domain.Image{}
	for rows.Next() {
		image, err := s.scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return images, nil
}

// scanImage reads one image row.
func (s *ImageStore) scanImage(row rowScanner) (*domain.Image, error) {
	var image domain.Image
	var id string

	err := row.Scan(
		&id,
		&image.ProjectID,
		&image.Window,
		&image.Key,
		&image.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrImageNotFound
		}
		return nil, err
	}

	image.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image ID %q: %w", id, err)
	}

	image.CreatedAt = image.CreatedAt.UTC()

	return &image, nil
}
