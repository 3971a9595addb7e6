package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/blob"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/engine"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/geo"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/task"
)

// TaskScheduler is the subset of the scheduler the service submits work
// through.
type TaskScheduler interface {
	Submit(
		ctx context.Context,
		projectID string,
		taskType domain.TaskType,
		params *domain.Parameters,
		run task.RunnerFunc,
	) (*domain.Task, error)
}

// ExampleRunner is the synchronous fast path the service delegates to.
type ExampleRunner interface {
	Run(ctx context.Context, req example.Request) (*example.Result, error)
}

// InferenceService orchestrates processing workflows: the synchronous
// example path and background inference / polygonization submissions.
type InferenceService interface {
	// RunExample executes the full pipeline synchronously and returns the
	// polygons inline. Nothing is persisted.
	RunExample(ctx context.Context, req example.Request) (*example.Result, error)

	// SubmitInference validates the parameters, stores them on the
	// project and queues an inference task.
	SubmitInference(ctx context.Context, projectID string, params *domain.InferenceParameters) (*domain.Task, error)

	// SubmitPolygonize stores the parameters on the project and queues a
	// polygonization task. A nil params runs with defaults.
	SubmitPolygonize(ctx context.Context, projectID string, params *domain.PolygonizationParameters) (*domain.Task, error)

	// RunnerFor rebuilds the execution closure for a recovered task from
	// the project's stored parameters.
	RunnerFor(t *domain.Task) (task.RunnerFunc, error)
}

// The service doubles as the scheduler's runner factory for tasks
// requeued after a restart.
var _ task.RunnerFactory = (InferenceService)(nil)

type inferenceServiceImpl struct {
	db          *sql.DB
	projects    store.ProjectStore
	blobs       blob.Store
	registry    *domain.ModelRegistry
	inference   engine.InferenceEngine
	polygonizer engine.PolygonizationEngine
	scheduler   TaskScheduler
	example     ExampleRunner
	limits      geo.AreaLimits
	logger      *slog.Logger
}

// NewInferenceService creates an InferenceService. The limits are the
// area window applied to project submissions. It returns an error if any
// required dependency is nil.
func NewInferenceService(
	db *sql.DB,
	projects store.ProjectStore,
	blobs blob.Store,
	registry *domain.ModelRegistry,
	inferenceEngine engine.InferenceEngine,
	polygonizer engine.PolygonizationEngine,
	scheduler TaskScheduler,
	exampleRunner ExampleRunner,
	limits geo.AreaLimits,
	logger *slog.Logger,
) (InferenceService, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if projects == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if inferenceEngine == nil {
		return nil, fmt.Errorf("inference engine is required")
	}
	if polygonizer == nil {
		return nil, fmt.Errorf("polygonization engine is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("task scheduler is required")
	}
	if exampleRunner == nil {
		return nil, fmt.Errorf("example runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &inferenceServiceImpl{
		db:          db,
		projects:    projects,
		blobs:       blobs,
		registry:    registry,
		inference:   inferenceEngine,
		polygonizer: polygonizer,
		scheduler:   scheduler,
		example:     exampleRunner,
		limits:      limits,
		logger:      logger.With(slog.String("component", "inference_service")),
	}, nil
}

// RunExample implements InferenceService.RunExample.
func (s *inferenceServiceImpl) RunExample(ctx context.Context, req example.Request) (*example.Result, error) {
	return s.example.Run(ctx, req)
}

// SubmitInference implements InferenceService.SubmitInference.
func (s *inferenceServiceImpl) SubmitInference(
	ctx context.Context,
	projectID string,
	params *domain.InferenceParameters,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if params == nil {
		return nil, domain.NewValidationError("Inference parameters are required")
	}

	model, err := s.prepareInference(params)
	if err != nil {
		return nil, err
	}

	merged := project.Parameters
	merged.Inference = params

	t, err := s.scheduler.Submit(ctx, projectID, domain.TaskTypeInference, &merged,
		s.inferenceRunner(projectID, *params, model.File))
	if err != nil {
		return nil, err
	}

	log.Info("inference submitted",
		slog.String("project_id", projectID),
		slog.String("task_id", t.ID.String()),
		slog.String("model", params.Model))
	return t, nil
}

// SubmitPolygonize implements InferenceService.SubmitPolygonize.
func (s *inferenceServiceImpl) SubmitPolygonize(
	ctx context.Context,
	projectID string,
	params *domain.PolygonizationParameters,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = &domain.PolygonizationParameters{}
	}
	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	merged := project.Parameters
	merged.Polygons = params

	t, err := s.scheduler.Submit(ctx, projectID, domain.TaskTypePolygonize, &merged,
		s.polygonizeRunner(projectID, *params))
	if err != nil {
		return nil, err
	}

	log.Info("polygonization submitted",
		slog.String("project_id", projectID),
		slog.String("task_id", t.ID.String()))
	return t, nil
}

// RunnerFor implements task.RunnerFactory.
func (s *inferenceServiceImpl) RunnerFor(t *domain.Task) (task.RunnerFunc, error) {
	project, err := s.projects.GetByID(context.Background(), t.ProjectID)
	if err != nil {
		return nil, err
	}

	switch t.Type {
	case domain.TaskTypeInference:
		params := project.Parameters.Inference
		if params == nil {
			return nil, fmt.Errorf("project %s has no stored inference parameters", t.ProjectID)
		}
		model, err := s.resolveModel(params.Model)
		if err != nil {
			return nil, err
		}
		return s.inferenceRunner(t.ProjectID, *params, model.File), nil

	case domain.TaskTypePolygonize:
		params := project.Parameters.Polygons
		if params == nil {
			params = &domain.PolygonizationParameters{}
		}
		restored := *params
		restored.ApplyDefaults()
		return s.polygonizeRunner(t.ProjectID, restored), nil

	default:
		return nil, fmt.Errorf("unknown task type %q", t.Type)
	}
}

// prepareInference applies defaults and validates parameters for a
// project submission, resolving the model checkpoint.
func (s *inferenceServiceImpl) prepareInference(params *domain.InferenceParameters) (domain.Model, error) {
	params.ApplyDefaults()

	if len(params.BBox) > 0 {
		if _, err := geo.ValidateArea(params.BBox, s.limits); err != nil {
			return domain.Model{}, err
		}
	}
	if len(params.Images) > 0 {
		if err := params.ValidateImageURLs(); err != nil {
			return domain.Model{}, err
		}
	}

	model, err := s.resolveModel(params.Model)
	if err != nil {
		return domain.Model{}, err
	}

	if err := params.Validate(); err != nil {
		return domain.Model{}, err
	}

	return model, nil
}

// resolveModel looks up a model and verifies its checkpoint file exists.
func (s *inferenceServiceImpl) resolveModel(id string) (domain.Model, error) {
	model, err := s.registry.Resolve(id)
	if err != nil {
		return domain.Model{}, err
	}
	if model.File == "" {
		return domain.Model{}, domain.NewValidationError("Model '%s' has no file specified", id)
	}
	if _, err := os.Stat(model.File); err != nil {
		return domain.Model{}, domain.NewValidationError("Model file not found at '%s'", model.File)
	}
	return model, nil
}

// inferenceRunner builds the execution closure for an inference task.
func (s *inferenceServiceImpl) inferenceRunner(
	projectID string,
	params domain.InferenceParameters,
	modelFile string,
) task.RunnerFunc {
	return func(ctx context.Context, progress task.ProgressFunc) (map[string]any, error) {
		return s.runInference(ctx, projectID, params, modelFile, progress)
	}
}

// polygonizeRunner builds the execution closure for a polygonization task.
func (s *inferenceServiceImpl) polygonizeRunner(
	projectID string,
	params domain.PolygonizationParameters,
) task.RunnerFunc {
	return func(ctx context.Context, progress task.ProgressFunc) (map[string]any, error) {
		return s.runPolygonize(ctx, projectID, params, progress)
	}
}

// runInference executes the inference pipeline for a project: download
// and stack the scenes, run the model, store the raster artifact and
// record it on the project.
func (s *inferenceServiceImpl) runInference(
	ctx context.Context,
	projectID string,
	params domain.InferenceParameters,
	modelFile string,
	progress task.ProgressFunc,
) (map[string]any, error) {
	if len(params.Images) != 2 {
		return nil, errors.New("File-based processing not yet implemented")
	}

	start := time.Now()
	resultKey := fmt.Sprintf("projects/%s/results/inference_%s.tif", projectID, uuid.New())

	dir, err := os.MkdirTemp("", "ftw-inference-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove working directory", slog.String("dir", dir))
		}
	}()

	imagePath := filepath.Join(dir, "merged.tif")
	outputPath := filepath.Join(dir, "inference.tif")

	engineStart := time.Now()
	err = s.inference.RunInference(ctx, engine.InferenceRequest{
		SceneURLs:    params.Images,
		BBox:         params.BBox,
		ImagePath:    imagePath,
		OutputPath:   outputPath,
		ModelFile:    modelFile,
		ResizeFactor: params.ResizeFactor,
		Padding:      params.Padding,
		PatchSize:    params.PatchSize,
	})
	if err != nil {
		return nil, err
	}
	progress(50)

	metrics := map[string]any{
		"image_file":        imagePath,
		"inference_time_ms": millisSince(engineStart),
	}
	if info, err := os.Stat(imagePath); err == nil {
		metrics["image_size_mb"] = roundTwo(float64(info.Size()) / (1024 * 1024))
	}

	if err := s.blobs.Put(ctx, outputPath, resultKey); err != nil {
		return nil, fmt.Errorf("failed to store inference artifact: %w", err)
	}
	metrics["total_time_ms"] = millisSince(start)

	err = s.recordResult(ctx, projectID, func(results *domain.ProjectResults) {
		results.Inference = &domain.ResultRef{
			Key:       resultKey,
			Metrics:   metrics,
			CreatedAt: time.Now().UTC(),
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("inference completed",
		slog.String("project_id", projectID),
		slog.String("key", resultKey))

	result := map[string]any{
		"inference_file": resultKey,
		"inference_key":  resultKey,
	}
	for k, v := range metrics {
		result[k] = v
	}
	return result, nil
}

// runPolygonize executes polygonization for a project: fetch the latest
// inference raster, convert it to polygons, store the GeoJSON artifact
// and record it on the project.
func (s *inferenceServiceImpl) runPolygonize(
	ctx context.Context,
	projectID string,
	params domain.PolygonizationParameters,
	progress task.ProgressFunc,
) (map[string]any, error) {
	start := time.Now()

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Results.Inference == nil {
		return nil, errors.New("No inference results found for this project")
	}

	resultKey := fmt.Sprintf("projects/%s/results/polygons_%s.json", projectID, uuid.New())

	dir, err := os.MkdirTemp("", "ftw-polygonize-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove working directory", slog.String("dir", dir))
		}
	}()

	rasterPath := filepath.Join(dir, "inference.tif")
	outputPath := filepath.Join(dir, "polygons.json")

	if err := s.blobs.Get(ctx, project.Results.Inference.Key, rasterPath); err != nil {
		return nil, fmt.Errorf("failed to fetch inference artifact: %w", err)
	}

	polygonizeStart := time.Now()
	err = s.polygonizer.Polygonize(ctx, engine.PolygonizeRequest{
		InputPath:      rasterPath,
		OutputPath:     outputPath,
		Simplify:       *params.Simplify,
		MinSize:        *params.MinSize,
		CloseInteriors: params.CloseInteriors,
	})
	if err != nil {
		return nil, err
	}
	polygonizeMs := millisSince(polygonizeStart)
	progress(50)

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read polygon output: %w", err)
	}
	generated := countGeoJSONFeatures(data)

	if err := s.blobs.Put(ctx, outputPath, resultKey); err != nil {
		return nil, fmt.Errorf("failed to store polygon artifact: %w", err)
	}
	totalMs := millisSince(start)

	metrics := map[string]any{
		"polygonize_time_ms": polygonizeMs,
		"total_time_ms":      totalMs,
		"polygons_generated": generated,
	}
	err = s.recordResult(ctx, projectID, func(results *domain.ProjectResults) {
		results.Polygons = &domain.ResultRef{
			Key:       resultKey,
			Metrics:   metrics,
			CreatedAt: time.Now().UTC(),
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("polygonization completed",
		slog.String("project_id", projectID),
		slog.String("key", resultKey),
		slog.Int("polygons_generated", generated))

	result := map[string]any{
		"polygon_file": resultKey,
		"polygon_key":  resultKey,
	}
	for k, v := range metrics {
		result[k] = v
	}
	return result, nil
}

// recordResult updates the project's artifact references inside a
// transaction so concurrent tasks of different types cannot lose each
// other's writes.
func (s *inferenceServiceImpl) recordResult(
	ctx context.Context,
	projectID string,
	apply func(results *domain.ProjectResults),
) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		projects := s.projects.WithTx(tx)
		project, err := projects.GetByID(ctx, projectID)
		if err != nil {
			return err
		}
		results := project.Results
		apply(&results)
		return projects.UpdateResults(ctx, projectID, results)
	})
}

// millisSince returns the elapsed time in milliseconds rounded to two
// decimal places.
func millisSince(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*100000) / 100
}

// roundTwo rounds to two decimal places.
func roundTwo(v float64) float64 {
	return math.Round(v*100) / 100
}

// countGeoJSONFeatures counts the features in a GeoJSON FeatureCollection.
func countGeoJSONFeatures(data []byte) int {
	var doc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}
	return len(doc.Features)
}
