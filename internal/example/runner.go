// Package example implements the synchronous quick-look path: a single
// request runs inference and polygonization end to end for a small area
// and returns the polygons inline. Nothing is persisted on any outcome.
package example

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/engine"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/geo"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/workerpool"
)

// Signals surfaced to the transport layer, which maps them to 503 and 504.
var (
	// ErrBusy is returned when no processing slot is free. This path
	// never queues; callers retry later.
	ErrBusy = errors.New("server is busy, try again later")

	// ErrTimeout is returned when processing exceeds the configured
	// wall-clock limit.
	ErrTimeout = errors.New("request timed out, try a smaller area")

	// ErrDisabled is returned when the example path is turned off in
	// configuration.
	ErrDisabled = errors.New("example endpoint is disabled")
)

// Format selects the output encoding of the polygon results.
type Format string

// Supported output formats.
const (
	FormatGeoJSON Format = "geojson"
	FormatNDJSON  Format = "ndjson"
)

// FormatFromAccept derives the output format from an Accept header.
// Anything that does not ask for ndjson gets GeoJSON.
func FormatFromAccept(accept string) Format {
	if strings.Contains(accept, "application/x-ndjson") {
		return FormatNDJSON
	}
	return FormatGeoJSON
}

// MediaType returns the content type for responses in this format.
func (f Format) MediaType() string {
	if f == FormatNDJSON {
		return "application/x-ndjson"
	}
	return "application/geo+json"
}

// extension returns the output file extension the polygonization engine
// keys its encoding on.
func (f Format) extension() string {
	if f == FormatNDJSON {
		return ".ndjson"
	}
	return ".json"
}

// Request carries the parameters for one example run.
type Request struct {
	Inference *domain.InferenceParameters
	Polygons  *domain.PolygonizationParameters
	Format    Format
}

// Result is the inline polygon payload of a successful run.
type Result struct {
	Data   []byte
	Format Format
}

// Config bounds the example path.
type Config struct {
	// Enabled turns the endpoint on. Public deployments may disable the
	// heavy synchronous path entirely.
	Enabled bool

	// Timeout is the wall-clock limit for the whole run.
	Timeout time.Duration

	// MinAreaKm2 and MaxAreaKm2 bound the requested bounding box area.
	MinAreaKm2 float64
	MaxAreaKm2 float64
}

// Runner executes example requests against the shared processing pool.
type Runner struct {
	pool        *workerpool.Pool
	registry    *domain.ModelRegistry
	inference   engine.InferenceEngine
	polygonizer engine.PolygonizationEngine
	config      Config
	logger      *slog.Logger
}

// NewRunner creates a Runner. The pool is the same admission gate the
// task scheduler draws from, so example requests and background tasks
// contend for the same engine capacity.
func NewRunner(
	pool *workerpool.Pool,
	registry *domain.ModelRegistry,
	inference engine.InferenceEngine,
	polygonizer engine.PolygonizationEngine,
	config Config,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pool:        pool,
		registry:    registry,
		inference:   inference,
		polygonizer: polygonizer,
		config:      config,
		logger:      logger.With(slog.String("component", "example_runner")),
	}
}

// Run validates the request, admits it against the shared pool and
// executes the inference and polygonization engines under the configured
// deadline. Validation happens before admission, so an invalid request is
// rejected even when the server is saturated.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if !r.config.Enabled {
		return nil, ErrDisabled
	}

	model, err := r.validate(&req)
	if err != nil {
		return nil, err
	}

	if !r.pool.TryAcquire() {
		return nil, ErrBusy
	}
	defer r.pool.Release()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	started := time.Now()

	data, err := r.execute(ctx, req, model)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("example request timed out",
				slog.Duration("elapsed", time.Since(started)),
				slog.Duration("timeout", r.config.Timeout))
			return nil, ErrTimeout
		}
		return nil, err
	}

	r.logger.Info("example request completed",
		slog.Duration("elapsed", time.Since(started)),
		slog.Int("polygons_generated", countFeatures(data, req.Format)),
		slog.String("format", string(req.Format)))

	return &Result{Data: data, Format: req.Format}, nil
}

// validate checks the request and resolves the model. Mirrors the
// submission-path validation but additionally requires a bounding box and
// two scene URLs, since this path always downloads imagery.
func (r *Runner) validate(req *Request) (domain.Model, error) {
	if req.Inference == nil {
		return domain.Model{}, domain.NewValidationError("Inference parameters are required")
	}
	if req.Format == "" {
		req.Format = FormatGeoJSON
	}

	inf := req.Inference
	inf.ApplyDefaults()

	if len(inf.BBox) == 0 {
		return domain.Model{}, domain.NewValidationError(
			"Bounding box is required as a list of four values.")
	}

	limits := geo.AreaLimits{MinKm2: r.config.MinAreaKm2, MaxKm2: r.config.MaxAreaKm2}
	if _, err := geo.ValidateArea(inf.BBox, limits); err != nil {
		return domain.Model{}, err
	}

	if err := inf.ValidateImageURLs(); err != nil {
		return domain.Model{}, err
	}

	if err := inf.Validate(); err != nil {
		return domain.Model{}, err
	}

	model, err := r.registry.Resolve(inf.Model)
	if err != nil {
		return domain.Model{}, err
	}
	if model.File == "" {
		return domain.Model{}, domain.NewValidationError(
			"Model '%s' has no file specified", model.ID)
	}
	if _, err := os.Stat(model.File); err != nil {
		return domain.Model{}, domain.NewValidationError(
			"Model file not found at '%s'", model.File)
	}

	if req.Polygons == nil {
		req.Polygons = &domain.PolygonizationParameters{}
	}
	req.Polygons.ApplyDefaults()
	if err := req.Polygons.Validate(); err != nil {
		return domain.Model{}, err
	}

	return model, nil
}

// execute runs both engines in a scratch directory and reads back the
// polygon output.
func (r *Runner) execute(ctx context.Context, req Request, model domain.Model) ([]byte, error) {
	dir, err := os.MkdirTemp("", "ftw-example-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove scratch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}()

	imagePath := filepath.Join(dir, "merged.tif")
	rasterPath := filepath.Join(dir, "inference.tif")
	polygonsPath := filepath.Join(dir, "polygons"+req.Format.extension())

	inf := req.Inference
	if err := r.inference.RunInference(ctx, engine.InferenceRequest{
		SceneURLs:    inf.Images,
		BBox:         inf.BBox,
		ImagePath:    imagePath,
		OutputPath:   rasterPath,
		ModelFile:    model.File,
		ResizeFactor: inf.ResizeFactor,
		Padding:      inf.Padding,
		PatchSize:    inf.PatchSize,
	}); err != nil {
		return nil, err
	}

	if err := r.polygonizer.Polygonize(ctx, engine.PolygonizeRequest{
		InputPath:      rasterPath,
		OutputPath:     polygonsPath,
		Simplify:       *req.Polygons.Simplify,
		MinSize:        *req.Polygons.MinSize,
		CloseInteriors: req.Polygons.CloseInteriors,
	}); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(polygonsPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read polygon output: %w", err)
	}

	return data, nil
}

// countFeatures reports how many polygons an output payload carries, for
// logging only.
func countFeatures(data []byte, format Format) int {
	if format == FormatNDJSON {
		count := 0
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				count++
			}
		}
		return count
	}

	var doc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}
	return len(doc.Features)
}
