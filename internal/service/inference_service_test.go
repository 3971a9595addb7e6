package service

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/engine"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

func TestInferenceService_SubmitInference(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Inference target")
	ctx := context.Background()

	params := validInferenceParams()
	submitted, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeInference, submitted.Type)
	assert.Equal(t, project.ID, submitted.ProjectID)

	done := env.waitForTaskStatus(t, submitted.ID, domain.TaskStatusCompleted)

	key, ok := done.Result["inference_key"].(string)
	require.True(t, ok, "result should carry the artifact key")
	assert.True(t, strings.HasPrefix(key, "projects/"+project.ID+"/results/inference_"))
	assert.True(t, strings.HasSuffix(key, ".tif"))
	assert.Contains(t, done.Result, "inference_time_ms")
	assert.Contains(t, done.Result, "image_size_mb")
	assert.Contains(t, done.Result, "total_time_ms")

	exists, err := env.blobs.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	updated := env.projectByID(t, project.ID)
	assert.Equal(t, domain.ProjectStatusCompleted, updated.Status)
	require.NotNil(t, updated.Parameters.Inference)
	assert.Equal(t, "2-class", updated.Parameters.Inference.Model)
	require.NotNil(t, updated.Results.Inference)
	assert.Equal(t, key, updated.Results.Inference.Key)
	assert.Contains(t, updated.Results.Inference.Metrics, "total_time_ms")

	req := env.inference.lastRequest()
	assert.Equal(t, params.Images, req.SceneURLs)
	assert.Equal(t, params.BBox, req.BBox)
	assert.Equal(t, env.modelFile, req.ModelFile)
	assert.Equal(t, domain.DefaultResizeFactor, req.ResizeFactor)
}

func TestInferenceService_SubmitInference_Validation(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Validation target")
	ctx := context.Background()

	t.Run("missing project", func(t *testing.T) {
		_, err := env.inferenceSvc.SubmitInference(ctx, "ghost-ibex-0000", validInferenceParams())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("nil parameters", func(t *testing.T) {
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "Inference parameters are required")
	})

	t.Run("unknown model", func(t *testing.T) {
		params := validInferenceParams()
		params.Model = "3-class"
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "Model with ID '3-class' not found")
	})

	t.Run("model without file", func(t *testing.T) {
		params := validInferenceParams()
		params.Model = "no-file"
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Model 'no-file' has no file specified")
	})

	t.Run("missing model file", func(t *testing.T) {
		params := validInferenceParams()
		params.Model = "missing-file"
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Model file not found at")
	})

	t.Run("area too large", func(t *testing.T) {
		params := validInferenceParams()
		params.BBox = []float64{10, 45, 11, 46}
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "Area too large for project processing")
	})

	t.Run("area too small", func(t *testing.T) {
		params := validInferenceParams()
		params.BBox = []float64{13, 48, 13.0001, 48.0001}
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Area too small")
	})

	t.Run("invalid image URL", func(t *testing.T) {
		params := validInferenceParams()
		params.Images = []string{"https://example.com/a.tif", "file:///etc/passwd"}
		_, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "contains invalid characters")
	})

	// Nothing was queued by any of the rejected submissions.
	assert.Equal(t, 0, env.inference.callCount())
}

func TestInferenceService_SubmitInference_FileBasedFails(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "File based")
	ctx := context.Background()

	params := validInferenceParams()
	params.Images = nil

	submitted, err := env.inferenceSvc.SubmitInference(ctx, project.ID, params)
	require.NoError(t, err)

	failed := env.waitForTaskStatus(t, submitted.ID, domain.TaskStatusFailed)
	assert.Equal(t, "File-based processing not yet implemented", failed.Error)
	assert.Equal(t, 0, env.inference.callCount())

	updated := env.projectByID(t, project.ID)
	assert.Equal(t, domain.ProjectStatusFailed, updated.Status)
}

func TestInferenceService_SubmitInference_DuplicateActive(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Duplicate target")
	ctx := context.Background()

	release := make(chan struct{})
	env.inference.fn = func(ctx context.Context, req engine.InferenceRequest) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := os.WriteFile(req.ImagePath, []byte("merged-scenes"), 0o644); err != nil {
			return err
		}
		return os.WriteFile(req.OutputPath, []byte("raster"), 0o644)
	}

	first, err := env.inferenceSvc.SubmitInference(ctx, project.ID, validInferenceParams())
	require.NoError(t, err)

	_, err = env.inferenceSvc.SubmitInference(ctx, project.ID, validInferenceParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateTask)

	close(release)
	env.waitForTaskStatus(t, first.ID, domain.TaskStatusCompleted)
}

func TestInferenceService_SubmitPolygonize_WithoutInference(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Premature polygons")
	ctx := context.Background()

	submitted, err := env.inferenceSvc.SubmitPolygonize(ctx, project.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypePolygonize, submitted.Type)

	failed := env.waitForTaskStatus(t, submitted.ID, domain.TaskStatusFailed)
	assert.Equal(t, "No inference results found for this project", failed.Error)
	assert.Equal(t, 0, env.polygonizer.callCount())
}

func TestInferenceService_SubmitPolygonize_MissingProject(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)

	_, err := env.inferenceSvc.SubmitPolygonize(context.Background(), "ghost-ibex-0000", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInferenceService_FullPipeline(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Full pipeline")
	ctx := context.Background()

	inference, err := env.inferenceSvc.SubmitInference(ctx, project.ID, validInferenceParams())
	require.NoError(t, err)
	env.waitForTaskStatus(t, inference.ID, domain.TaskStatusCompleted)

	polygonize, err := env.inferenceSvc.SubmitPolygonize(ctx, project.ID, &domain.PolygonizationParameters{})
	require.NoError(t, err)
	done := env.waitForTaskStatus(t, polygonize.ID, domain.TaskStatusCompleted)

	key, ok := done.Result["polygon_key"].(string)
	require.True(t, ok, "result should carry the artifact key")
	assert.True(t, strings.HasPrefix(key, "projects/"+project.ID+"/results/polygons_"))
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.EqualValues(t, 2, done.Result["polygons_generated"])

	exists, err := env.blobs.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	// The polygonizer consumed the raster the inference stage stored.
	assert.Equal(t, "raster", string(env.polygonizer.lastRasterInput()))

	req := env.polygonizer.lastRequest()
	assert.Equal(t, float64(domain.DefaultSimplify), req.Simplify)
	assert.Equal(t, float64(domain.DefaultMinSize), req.MinSize)
	assert.False(t, req.CloseInteriors)

	updated := env.projectByID(t, project.ID)
	assert.Equal(t, domain.ProjectStatusCompleted, updated.Status)
	require.NotNil(t, updated.Results.Inference)
	require.NotNil(t, updated.Results.Polygons)
	assert.Equal(t, key, updated.Results.Polygons.Key)
	assert.Contains(t, updated.Results.Polygons.Metrics, "polygonize_time_ms")

	results, err := env.projectSvc.InferenceResults(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, key, results.Polygons.Key)

	data, err := env.projectSvc.InferenceGeoJSON(ctx, project.ID)
	require.NoError(t, err)
	assert.JSONEq(t, testPolygons, string(data))
}

func TestInferenceService_SubmitPolygonize_ExplicitZeroParameters(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "No simplification")
	ctx := context.Background()

	inference, err := env.inferenceSvc.SubmitInference(ctx, project.ID, validInferenceParams())
	require.NoError(t, err)
	env.waitForTaskStatus(t, inference.ID, domain.TaskStatusCompleted)

	// An explicit 0 is a valid setting and must reach the engine as 0,
	// not be replaced by the defaults.
	zero := 0.0
	polygonize, err := env.inferenceSvc.SubmitPolygonize(ctx, project.ID, &domain.PolygonizationParameters{
		Simplify: &zero,
		MinSize:  &zero,
	})
	require.NoError(t, err)
	env.waitForTaskStatus(t, polygonize.ID, domain.TaskStatusCompleted)

	req := env.polygonizer.lastRequest()
	assert.Zero(t, req.Simplify)
	assert.Zero(t, req.MinSize)

	stored := env.projectByID(t, project.ID)
	require.NotNil(t, stored.Parameters.Polygons)
	require.NotNil(t, stored.Parameters.Polygons.Simplify)
	assert.Zero(t, *stored.Parameters.Polygons.Simplify)
}

func TestInferenceService_RunExample(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)

	result, err := env.inferenceSvc.RunExample(context.Background(), example.Request{
		Inference: validInferenceParams(),
	})
	require.NoError(t, err)
	assert.Equal(t, example.FormatGeoJSON, result.Format)
	assert.JSONEq(t, testPolygons, string(result.Data))
}

func TestInferenceService_RunnerFor(t *testing.T) {
	t.Parallel()

	env := newServiceEnv(t)
	project := env.createProject(t, "Recovery target")
	ctx := context.Background()

	t.Run("inference without stored parameters", func(t *testing.T) {
		task, err := domain.NewTask(project.ID, domain.TaskTypeInference)
		require.NoError(t, err)

		_, err = env.inferenceSvc.RunnerFor(task)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no stored inference parameters")
	})

	t.Run("inference with stored parameters", func(t *testing.T) {
		require.NoError(t, env.projects.UpdateParameters(ctx, project.ID, domain.Parameters{
			Inference: validInferenceParams(),
		}))

		task, err := domain.NewTask(project.ID, domain.TaskTypeInference)
		require.NoError(t, err)

		run, err := env.inferenceSvc.RunnerFor(task)
		require.NoError(t, err)
		assert.NotNil(t, run)
	})

	t.Run("polygonize without stored parameters", func(t *testing.T) {
		task, err := domain.NewTask(project.ID, domain.TaskTypePolygonize)
		require.NoError(t, err)

		run, err := env.inferenceSvc.RunnerFor(task)
		require.NoError(t, err)
		assert.NotNil(t, run)
	})

	t.Run("missing project", func(t *testing.T) {
		task, err := domain.NewTask("ghost-ibex-0000", domain.TaskTypeInference)
		require.NoError(t, err)

		_, err = env.inferenceSvc.RunnerFor(task)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
