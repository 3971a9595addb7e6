package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/blob"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// projectIDAttempts bounds how often project creation retries when a
// generated ID collides with an existing project.
const projectIDAttempts = 20

// Result retrieval errors. They wrap store.ErrNotFound so the transport
// layer maps them to 404 responses.
var (
	// ErrNoResults is returned when a completed project has no stored
	// artifacts at all.
	ErrNoResults = fmt.Errorf("%w: inference results", store.ErrNotFound)

	// ErrNoGeoJSONResults is returned when inline GeoJSON output is
	// requested but no polygon artifact exists.
	ErrNoGeoJSONResults = fmt.Errorf("%w: geojson results", store.ErrNotFound)

	// ErrNoImageResults is returned when the raster artifact is requested
	// but no inference artifact exists.
	ErrNoImageResults = fmt.Errorf("%w: image results", store.ErrNotFound)
)

// StatusDetails bundles a project with the latest task of each type for
// the status endpoint. Task fields are nil when the project has never had
// a task of that type.
type StatusDetails struct {
	Project    *domain.Project
	Inference  *domain.Task
	Polygonize *domain.Task
}

// ResultURLs holds resolved download URLs for a project's artifacts. A
// nil field means the artifact does not exist or its URL could not be
// generated.
type ResultURLs struct {
	Inference *string
	Polygons  *string
}

// ProjectService provides project lifecycle operations: creation with
// generated IDs, retrieval, image uploads, status aggregation, result
// retrieval and deletion including storage cleanup.
type ProjectService interface {
	// CreateProject creates a new project with a generated ID.
	CreateProject(ctx context.Context, title string) (*domain.Project, error)

	// GetProject retrieves a project by ID.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListProjects retrieves all projects, newest first.
	ListProjects(ctx context.Context) ([]*domain.Project, error)

	// DeleteProject removes a project, its tasks and image records, and
	// best-effort deletes every stored object under the project prefix.
	DeleteProject(ctx context.Context, id string) error

	// UploadImage stores a scene for one of the project's two windows,
	// replacing any previous upload for that window.
	UploadImage(ctx context.Context, projectID, window, filename string, data io.Reader) (*domain.Image, error)

	// Status aggregates the project state with its latest tasks.
	Status(ctx context.Context, id string) (*StatusDetails, error)

	// TaskDetails retrieves a task scoped to a project. Tasks belonging
	// to other projects are reported as not found.
	TaskDetails(ctx context.Context, projectID string, taskID uuid.UUID) (*domain.Task, error)

	// ResultURLs resolves download URLs for the project's artifacts.
	ResultURLs(ctx context.Context, project *domain.Project) ResultURLs

	// InferenceResults returns the artifact references of a completed
	// project. Returns a validation error when the project is not
	// completed and ErrNoResults when it has no artifacts.
	InferenceResults(ctx context.Context, id string) (*domain.ProjectResults, error)

	// InferenceGeoJSON fetches the stored polygon artifact and returns
	// its raw contents.
	InferenceGeoJSON(ctx context.Context, id string) ([]byte, error)

	// InferenceRaster downloads the inference raster to a temporary file
	// and returns its path with a cleanup function.
	InferenceRaster(ctx context.Context, id string) (string, func(), error)
}

type projectServiceImpl struct {
	projects store.ProjectStore
	tasks    store.TaskStore
	images   store.ImageStore
	blobs    blob.Store
	logger   *slog.Logger
}

// NewProjectService creates a ProjectService over the given stores and
// blob storage. It returns an error if any required dependency is nil.
func NewProjectService(
	projects store.ProjectStore,
	tasks store.TaskStore,
	images store.ImageStore,
	blobs blob.Store,
	logger *slog.Logger,
) (ProjectService, error) {
	if projects == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if images == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &projectServiceImpl{
		projects: projects,
		tasks:    tasks,
		images:   images,
		blobs:    blobs,
		logger:   logger.With(slog.String("component", "project_service")),
	}, nil
}

// CreateProject implements ProjectService.CreateProject. Generated IDs can
// collide, so creation retries with a fresh ID until the store accepts one.
func (s *projectServiceImpl) CreateProject(ctx context.Context, title string) (*domain.Project, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if strings.TrimSpace(title) == "" {
		return nil, domain.NewValidationError("Title is required")
	}

	for attempt := 0; attempt < projectIDAttempts; attempt++ {
		id, err := domain.GenerateProjectID()
		if err != nil {
			return nil, err
		}

		project, err := domain.NewProject(id, title)
		if err != nil {
			return nil, err
		}

		err = s.projects.Create(ctx, project)
		if err == nil {
			log.Info("project created",
				slog.String("project_id", project.ID),
				slog.String("title", project.Title))
			return project, nil
		}
		if !store.IsDuplicateError(err) {
			return nil, fmt.Errorf("failed to create project: %w", err)
		}

		log.Debug("project ID collision, retrying", slog.String("project_id", id))
	}

	return nil, fmt.Errorf("failed to allocate a unique project ID after %d attempts", projectIDAttempts)
}

// GetProject implements ProjectService.GetProject.
func (s *projectServiceImpl) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return s.projects.GetByID(ctx, id)
}

// ListProjects implements ProjectService.ListProjects.
func (s *projectServiceImpl) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	return s.projects.List(ctx)
}

// DeleteProject implements ProjectService.DeleteProject. Storage cleanup
// runs before the database delete and never blocks it: a half-cleaned
// project is preferable to an undeletable one.
func (s *projectServiceImpl) DeleteProject(ctx context.Context, id string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := s.projects.GetByID(ctx, id); err != nil {
		return err
	}

	s.cleanupBlobs(ctx, log, id)

	if err := s.projects.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	log.Info("project deleted", slog.String("project_id", id))
	return nil
}

// cleanupBlobs deletes every stored object under the project prefix,
// continuing past individual failures.
func (s *projectServiceImpl) cleanupBlobs(ctx context.Context, log *slog.Logger, projectID string) {
	prefix := fmt.Sprintf("projects/%s/", projectID)

	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		log.Error("failed to list project files for cleanup",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		return
	}

	deleted := 0
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Warn("failed to delete project file",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	log.Info("project storage cleanup completed",
		slog.String("project_id", projectID),
		slog.Int("deleted", deleted),
		slog.Int("total", len(keys)))
}

// UploadImage implements ProjectService.UploadImage. The scene is staged
// to a temporary file, stored under a fresh key and recorded; the
// previous upload's object, if any, is deleted best-effort afterwards.
func (s *projectServiceImpl) UploadImage(
	ctx context.Context,
	projectID, window, filename string,
	data io.Reader,
) (*domain.Image, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	win, err := domain.ParseImageWindow(window)
	if err != nil {
		return nil, domain.NewValidationError("Window must be 'a' or 'b'")
	}

	if filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		if ext != "" && ext != ".tif" && ext != ".tiff" {
			return nil, domain.NewValidationError("Only .tif and .tiff files are accepted")
		}
	}

	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "ftw-upload-*.tif")
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove staged upload", slog.String("path", tmpPath))
		}
	}()

	written, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if written == 0 {
		return nil, domain.NewValidationError("Uploaded file is empty")
	}

	key := fmt.Sprintf("projects/%s/uploads/%s/%s.tif", projectID, win, uuid.New())
	if err := s.blobs.Put(ctx, tmpPath, key); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	var previousKey string
	if existing, err := s.images.GetByWindow(ctx, projectID, win); err == nil {
		previousKey = existing.Key
	} else if !store.IsNotFoundError(err) {
		return nil, err
	}

	image, err := domain.NewImage(projectID, win, key)
	if err != nil {
		return nil, err
	}
	if err := s.images.Upsert(ctx, image); err != nil {
		return nil, err
	}

	if previousKey != "" && previousKey != key {
		if err := s.blobs.Delete(ctx, previousKey); err != nil {
			log.Warn("failed to delete replaced upload",
				slog.String("key", previousKey),
				slog.String("error", err.Error()))
		}
	}

	log.Info("image uploaded",
		slog.String("project_id", projectID),
		slog.String("window", string(win)),
		slog.String("key", key),
		slog.Int64("bytes", written))

	return image, nil
}

// Status implements ProjectService.Status.
func (s *projectServiceImpl) Status(ctx context.Context, id string) (*StatusDetails, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &StatusDetails{Project: project}

	inference, err := s.tasks.LatestByType(ctx, id, domain.TaskTypeInference)
	if err == nil {
		details.Inference = inference
	} else if !store.IsNotFoundError(err) {
		return nil, err
	}

	polygonize, err := s.tasks.LatestByType(ctx, id, domain.TaskTypePolygonize)
	if err == nil {
		details.Polygonize = polygonize
	} else if !store.IsNotFoundError(err) {
		return nil, err
	}

	return details, nil
}

// TaskDetails implements ProjectService.TaskDetails.
func (s *projectServiceImpl) TaskDetails(ctx context.Context, projectID string, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != projectID {
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

// ResultURLs implements ProjectService.ResultURLs.
func (s *projectServiceImpl) ResultURLs(ctx context.Context, project *domain.Project) ResultURLs {
	var urls ResultURLs
	if project.Results.Inference != nil {
		urls.Inference = s.safeURL(ctx, project.Results.Inference.Key)
	}
	if project.Results.Polygons != nil {
		urls.Polygons = s.safeURL(ctx, project.Results.Polygons.Key)
	}
	return urls
}

// safeURL resolves a download URL for a key, returning nil on any error
// so listings degrade instead of failing.
func (s *projectServiceImpl) safeURL(ctx context.Context, key string) *string {
	if key == "" {
		return nil
	}
	url, err := s.blobs.URL(ctx, key)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("could not generate URL",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil
	}
	return &url
}

// InferenceResults implements ProjectService.InferenceResults.
func (s *projectServiceImpl) InferenceResults(ctx context.Context, id string) (*domain.ProjectResults, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if project.Status != domain.ProjectStatusCompleted {
		return nil, domain.NewValidationError(
			"Project inference is not completed. Current status: %s", project.Status)
	}

	if project.Results.Inference == nil && project.Results.Polygons == nil {
		return nil, ErrNoResults
	}

	return &project.Results, nil
}

// InferenceGeoJSON implements ProjectService.InferenceGeoJSON.
func (s *projectServiceImpl) InferenceGeoJSON(ctx context.Context, id string) ([]byte, error) {
	results, err := s.InferenceResults(ctx, id)
	if err != nil {
		return nil, err
	}
	if results.Polygons == nil {
		return nil, ErrNoGeoJSONResults
	}

	dir, err := os.MkdirTemp("", "ftw-results-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scratch directory", slog.String("dir", dir))
		}
	}()

	localPath := filepath.Join(dir, "polygons.json")
	if err := s.blobs.Get(ctx, results.Polygons.Key, localPath); err != nil {
		return nil, fmt.Errorf("failed to fetch polygon artifact: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read polygon artifact: %w", err)
	}
	return data, nil
}

// InferenceRaster implements ProjectService.InferenceRaster. The caller
// must invoke the returned cleanup function once the file has been served.
func (s *projectServiceImpl) InferenceRaster(ctx context.Context, id string) (string, func(), error) {
	results, err := s.InferenceResults(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if results.Inference == nil {
		return "", nil, ErrNoImageResults
	}

	dir, err := os.MkdirTemp("", "ftw-results-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scratch directory", slog.String("dir", dir))
		}
	}

	localPath := filepath.Join(dir, fmt.Sprintf("inference_%s.tif", id))
	if err := s.blobs.Get(ctx, results.Inference.Key, localPath); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to fetch inference artifact: %w", err)
	}

	return localPath, cleanup, nil
}
