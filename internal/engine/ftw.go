package engine

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/geo"
)

// outputTailBytes bounds how much tooling output is kept in errors.
const outputTailBytes = 2000

// CLI runs inference and polygonization by invoking the ftw command line
// tool. One instance is safe for concurrent use; concurrency limits are
// the caller's concern.
type CLI struct {
	binary string
	gpu    *int
	logger *slog.Logger
}

// NewCLI creates a CLI engine using the given binary. An empty binary
// defaults to "ftw" on PATH. The GPU index, when set, is passed to every
// inference run. If logger is nil, a default logger will be used.
func NewCLI(binary string, gpu *int, logger *slog.Logger) *CLI {
	if binary == "" {
		binary = "ftw"
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CLI{
		binary: binary,
		gpu:    gpu,
		logger: logger.With(slog.String("component", "ftw_cli")),
	}
}

// Ensure CLI implements both engine interfaces
var (
	_ InferenceEngine      = (*CLI)(nil)
	_ PolygonizationEngine = (*CLI)(nil)
)

// RunInference implements InferenceEngine. When scene URLs are present it
// first downloads and stacks them into the combined image, then runs the
// model over it.
func (c *CLI) RunInference(ctx context.Context, req InferenceRequest) error {
	if len(req.SceneURLs) == 2 {
		if err := c.run(ctx, "inference download", buildDownloadArgs(req)); err != nil {
			return err
		}
	}

	return c.run(ctx, "inference run", buildRunArgs(req, c.gpu))
}

// Polygonize implements PolygonizationEngine.
func (c *CLI) Polygonize(ctx context.Context, req PolygonizeRequest) error {
	return c.run(ctx, "polygonize", buildPolygonizeArgs(req))
}

// run executes the binary and wraps failures in an EngineError carrying
// the output tail. Context cancellation wins over the process error so
// timeouts surface as such.
func (c *CLI) run(ctx context.Context, stage string, args []string) error {
	start := time.Now()
	c.logger.Debug("running command",
		slog.String("stage", stage),
		slog.String("binary", c.binary),
		slog.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Error("command failed",
			slog.String("stage", stage),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return &EngineError{Stage: stage, Err: err, Output: tail(output)}
	}

	c.logger.Info("command succeeded",
		slog.String("stage", stage),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// buildDownloadArgs assembles the scene download invocation.
func buildDownloadArgs(req InferenceRequest) []string {
	args := []string{
		"inference", "download",
		"--out", req.ImagePath,
		"--win_a", req.SceneURLs[0],
		"--win_b", req.SceneURLs[1],
	}
	if len(req.BBox) == 4 {
		args = append(args, "--bbox", geo.FormatBBox(req.BBox))
	}
	return args
}

// buildRunArgs assembles the model invocation.
func buildRunArgs(req InferenceRequest, gpu *int) []string {
	args := []string{
		"inference", "run", req.ImagePath,
		"--overwrite",
		"--out", req.OutputPath,
		"--model", req.ModelFile,
		"--resize_factor", strconv.Itoa(req.ResizeFactor),
	}
	if req.GPU != nil {
		gpu = req.GPU
	}
	if gpu != nil {
		args = append(args, "--gpu", strconv.Itoa(*gpu))
	}
	if req.Padding != nil {
		args = append(args, "--padding", strconv.Itoa(*req.Padding))
	}
	if req.PatchSize != nil {
		args = append(args, "--patch_size", strconv.Itoa(*req.PatchSize))
	}
	return args
}

// buildPolygonizeArgs assembles the polygonization invocation.
func buildPolygonizeArgs(req PolygonizeRequest) []string {
	args := []string{
		"inference", "polygonize", req.InputPath,
		"--overwrite",
		"--out", req.OutputPath,
		"--simplify", strconv.FormatFloat(req.Simplify, 'f', -1, 64),
		"--min_size", strconv.FormatFloat(req.MinSize, 'f', -1, 64),
	}
	if req.CloseInteriors {
		args = append(args, "--close_interiors")
	}
	return args
}

// tail returns the last chunk of command output with whitespace trimmed.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > outputTailBytes {
		s = s[len(s)-outputTailBytes:]
	}
	return s
}
