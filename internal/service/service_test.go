package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/blob"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/engine"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/geo"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/sqlite"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/task"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/workerpool"
)

// testPolygons is the payload the stub polygonizer writes: a collection
// with two features.
const testPolygons = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,1],[1,1],[0,0]]]}, "properties": {"id": 1}},
		{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[2,2],[2,3],[3,3],[2,2]]]}, "properties": {"id": 2}}
	]
}`

// stubInference is a scripted InferenceEngine. Without an override it
// writes placeholder files to the requested paths.
type stubInference struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req engine.InferenceRequest) error
	last  engine.InferenceRequest
	calls int
}

func (s *stubInference) RunInference(ctx context.Context, req engine.InferenceRequest) error {
	s.mu.Lock()
	s.last = req
	s.calls++
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := os.WriteFile(req.ImagePath, []byte("merged-scenes"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, []byte("raster"), 0o644)
}

func (s *stubInference) lastRequest() engine.InferenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *stubInference) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubPolygonizer is a scripted PolygonizationEngine. Without an override
// it records the input raster contents and writes a fixed collection.
type stubPolygonizer struct {
	mu        sync.Mutex
	fn        func(ctx context.Context, req engine.PolygonizeRequest) error
	last      engine.PolygonizeRequest
	lastInput []byte
	calls     int
}

func (s *stubPolygonizer) Polygonize(ctx context.Context, req engine.PolygonizeRequest) error {
	s.mu.Lock()
	s.last = req
	s.calls++
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	input, err := os.ReadFile(req.InputPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastInput = input
	s.mu.Unlock()

	return os.WriteFile(req.OutputPath, []byte(testPolygons), 0o644)
}

func (s *stubPolygonizer) lastRequest() engine.PolygonizeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *stubPolygonizer) lastRasterInput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

func (s *stubPolygonizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// serviceEnv wires real stores, local blob storage and a running scheduler
// around the services under test. Only the engines are stubbed.
type serviceEnv struct {
	db           *sql.DB
	projects     store.ProjectStore
	tasks        store.TaskStore
	images       store.ImageStore
	blobs        blob.Store
	registry     *domain.ModelRegistry
	inference    *stubInference
	polygonizer  *stubPolygonizer
	scheduler    *task.Scheduler
	projectSvc   ProjectService
	inferenceSvc InferenceService
	modelFile    string
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.MigrateUp(db))

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	projects := sqlite.NewProjectStore(db, log)
	tasks := sqlite.NewTaskStore(db, log)
	images := sqlite.NewImageStore(db, log)

	blobs, err := blob.NewLocalStore(t.TempDir(), log)
	require.NoError(t, err)

	modelFile := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, os.WriteFile(modelFile, []byte("weights"), 0o644))

	registry := domain.NewModelRegistry([]domain.Model{
		{ID: "2-class", Title: "2 Class Model", File: modelFile},
		{ID: "no-file", Title: "Unconfigured Model"},
		{ID: "missing-file", Title: "Misconfigured Model", File: filepath.Join(t.TempDir(), "gone.ckpt")},
	})

	inference := &stubInference{}
	polygonizer := &stubPolygonizer{}

	pool := workerpool.New(2)
	scheduler := task.NewScheduler(db, tasks, projects, pool, task.DefaultConfig(), log)

	exampleRunner := example.NewRunner(pool, registry, inference, polygonizer, example.Config{
		Enabled:    true,
		Timeout:    5 * time.Second,
		MinAreaKm2: 0.1,
		MaxAreaKm2: 500,
	}, log)

	projectSvc, err := NewProjectService(projects, tasks, images, blobs, log)
	require.NoError(t, err)

	inferenceSvc, err := NewInferenceService(
		db, projects, blobs, registry, inference, polygonizer, scheduler, exampleRunner,
		geo.AreaLimits{MinKm2: 0.1, MaxKm2: 3000, Project: true}, log)
	require.NoError(t, err)

	scheduler.SetRunnerFactory(inferenceSvc)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	return &serviceEnv{
		db:           db,
		projects:     projects,
		tasks:        tasks,
		images:       images,
		blobs:        blobs,
		registry:     registry,
		inference:    inference,
		polygonizer:  polygonizer,
		scheduler:    scheduler,
		projectSvc:   projectSvc,
		inferenceSvc: inferenceSvc,
		modelFile:    modelFile,
	}
}

func (e *serviceEnv) createProject(t *testing.T, title string) *domain.Project {
	t.Helper()

	project, err := e.projectSvc.CreateProject(context.Background(), title)
	require.NoError(t, err)
	return project
}

func (e *serviceEnv) projectByID(t *testing.T, id string) *domain.Project {
	t.Helper()

	project, err := e.projects.GetByID(context.Background(), id)
	require.NoError(t, err)
	return project
}

func (e *serviceEnv) waitForTaskStatus(t *testing.T, id uuid.UUID, status domain.TaskStatus) *domain.Task {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.tasks.GetByID(context.Background(), id)
		require.NoError(t, err)
		if got.Status == status {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for task %s to reach status %s", id, status)
	return nil
}

// forceStatus walks a project through the given statuses in order.
func (e *serviceEnv) forceStatus(t *testing.T, id string, statuses ...domain.ProjectStatus) {
	t.Helper()

	for _, status := range statuses {
		require.NoError(t, e.projects.SetStatus(context.Background(), id, status, nil))
	}
}

// putObject stores content under a key in the blob store.
func (e *serviceEnv) putObject(t *testing.T, key, content string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "object")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, e.blobs.Put(context.Background(), path, key))
}

// validInferenceParams covers roughly 20 square kilometers near Passau.
func validInferenceParams() *domain.InferenceParameters {
	return &domain.InferenceParameters{
		Model: "2-class",
		BBox:  []float64{13.0, 48.0, 13.05, 48.05},
		Images: []string{
			"https://example.com/scenes/window_a.tif",
			"https://example.com/scenes/window_b.tif",
		},
	}
}
