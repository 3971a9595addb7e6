package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/blob"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/config"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/engine"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/geo"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/sqlite"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service/auth"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/task"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/workerpool"
)

// writeTimeoutHeadroom is added to the example timeout to size the HTTP
// write timeout, so a maximally slow example run can still be written out.
const writeTimeoutHeadroom = 30 * time.Second

// application bundles the assembled components so Run and cleanup can
// reach them.
type application struct {
	cfg       *config.Config
	db        *sql.DB
	scheduler *task.Scheduler
	server    *api.Server
	logger    *slog.Logger
}

// newApplication wires the full dependency graph: database and stores,
// blob storage, engines, the shared processing pool, scheduler, services
// and the HTTP server. The scheduler is started here so recovered tasks
// begin processing before the first request arrives.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlite.MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	projects := sqlite.NewProjectStore(db, log)
	tasks := sqlite.NewTaskStore(db, log)
	images := sqlite.NewImageStore(db, log)

	blobs, err := newBlobStore(ctx, cfg.Storage, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := domain.NewModelRegistry(modelsFromConfig(cfg.Models))
	cli := engine.NewCLI(cfg.Processing.FTWBinary, cfg.Processing.GPU, log)
	pool := workerpool.New(cfg.Processing.MaxConcurrent)

	exampleRunner := example.NewRunner(pool, registry, cli, cli, example.Config{
		Enabled:    cfg.Processing.ExampleEnabled,
		Timeout:    cfg.Processing.ExampleTimeout(),
		MinAreaKm2: cfg.Processing.MinAreaKm2,
		MaxAreaKm2: cfg.Processing.ExampleMaxAreaKm2,
	}, log)

	scheduler := task.NewScheduler(db, tasks, projects, pool, task.Config{
		Workers:   cfg.Processing.TaskWorkers,
		QueueSize: cfg.Processing.QueueSize,
	}, log)

	projectService, err := service.NewProjectService(projects, tasks, images, blobs, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create project service: %w", err)
	}

	inferenceService, err := service.NewInferenceService(
		db, projects, blobs, registry, cli, cli, scheduler, exampleRunner,
		geo.AreaLimits{
			MinKm2:  cfg.Processing.MinAreaKm2,
			MaxKm2:  cfg.Processing.ProjectMaxAreaKm2,
			Project: true,
		}, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create inference service: %w", err)
	}

	// The inference service rebuilds runners for tasks that survived a
	// restart from their project's stored parameters.
	scheduler.SetRunnerFactory(inferenceService)
	if err := scheduler.Start(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	var jwtService auth.JWTService
	if !cfg.Auth.Disabled {
		jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			scheduler.Stop()
			_ = db.Close()
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
	}

	router, err := api.NewRouter(api.RouterConfig{
		Info: api.APIInfo{
			Title:             cfg.API.Title,
			Description:       cfg.API.Description,
			Version:           cfg.API.Version,
			MinAreaKm2:        cfg.Processing.MinAreaKm2,
			ExampleMaxAreaKm2: cfg.Processing.ExampleMaxAreaKm2,
			ProjectMaxAreaKm2: cfg.Processing.ProjectMaxAreaKm2,
			ExampleEnabled:    cfg.Processing.ExampleEnabled,
		},
		Registry:     registry,
		Projects:     projectService,
		Inference:    inferenceService,
		JWTService:   jwtService,
		AuthDisabled: cfg.Auth.Disabled,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Logger:       log,
	})
	if err != nil {
		scheduler.Stop()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	writeTimeout := cfg.Processing.ExampleTimeout() + writeTimeoutHeadroom
	server := api.NewServer(addr, router, writeTimeout, log)

	return &application{
		cfg:       cfg,
		db:        db,
		scheduler: scheduler,
		server:    server,
		logger:    log,
	}, nil
}

// Run serves HTTP until the context is cancelled or a shutdown signal
// arrives.
func (app *application) Run(ctx context.Context) error {
	return app.server.Run(ctx)
}

// cleanup stops the scheduler and closes the database. In-flight tasks
// are interrupted and recovered on the next start.
func (app *application) cleanup() {
	app.scheduler.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", slog.String("error", err.Error()))
	}
}

// newBlobStore constructs the storage backend selected by configuration.
func newBlobStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (blob.Store, error) {
	switch cfg.Backend {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			KeyPrefix: cfg.S3.KeyPrefix,
			URLExpiry: cfg.S3.URLExpiry(),
		}, log)
	case "local":
		return blob.NewLocalStore(cfg.LocalDir, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// modelsFromConfig converts configured model entries into registry models.
func modelsFromConfig(models []config.ModelConfig) []domain.Model {
	out := make([]domain.Model, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Model{
			ID:                 m.ID,
			Title:              m.Title,
			Description:        m.Description,
			License:            m.License,
			Version:            m.Version,
			RequiresWindow:     m.RequiresWindow,
			RequiresPolygonize: m.RequiresPolygonize,
			File:               m.File,
		})
	}
	return out
}
