package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestBuildDownloadArgs(t *testing.T) {
	t.Parallel()

	req := InferenceRequest{
		SceneURLs: []string{"https://example.com/a.tif", "https://example.com/b.tif"},
		BBox:      []float64{13.0, 48.0, 13.3, 48.3},
		ImagePath: "/tmp/work/combined.tif",
	}

	args := buildDownloadArgs(req)
	assert.Equal(t, []string{
		"inference", "download",
		"--out", "/tmp/work/combined.tif",
		"--win_a", "https://example.com/a.tif",
		"--win_b", "https://example.com/b.tif",
		"--bbox", "13,48,13.3,48.3",
	}, args)

	// bbox is optional
	req.BBox = nil
	args = buildDownloadArgs(req)
	assert.NotContains(t, args, "--bbox")
}

func TestBuildRunArgs(t *testing.T) {
	t.Parallel()

	req := InferenceRequest{
		ImagePath:    "/tmp/work/combined.tif",
		OutputPath:   "/tmp/work/inference.tif",
		ModelFile:    "/models/2-class.ckpt",
		ResizeFactor: 2,
	}

	args := buildRunArgs(req, nil)
	assert.Equal(t, []string{
		"inference", "run", "/tmp/work/combined.tif",
		"--overwrite",
		"--out", "/tmp/work/inference.tif",
		"--model", "/models/2-class.ckpt",
		"--resize_factor", "2",
	}, args)

	// optional knobs
	req.Padding = intPtr(64)
	req.PatchSize = intPtr(256)
	args = buildRunArgs(req, intPtr(0))
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--gpu 0")
	assert.Contains(t, joined, "--padding 64")
	assert.Contains(t, joined, "--patch_size 256")

	// per-request GPU beats the engine default
	req.GPU = intPtr(1)
	args = buildRunArgs(req, intPtr(0))
	assert.Contains(t, strings.Join(args, " "), "--gpu 1")
}

func TestBuildPolygonizeArgs(t *testing.T) {
	t.Parallel()

	req := PolygonizeRequest{
		InputPath:  "/tmp/work/inference.tif",
		OutputPath: "/tmp/work/polygons.json",
		Simplify:   15,
		MinSize:    500,
	}

	args := buildPolygonizeArgs(req)
	assert.Equal(t, []string{
		"inference", "polygonize", "/tmp/work/inference.tif",
		"--overwrite",
		"--out", "/tmp/work/polygons.json",
		"--simplify", "15",
		"--min_size", "500",
	}, args)
	assert.NotContains(t, args, "--close_interiors")

	req.CloseInteriors = true
	assert.Contains(t, buildPolygonizeArgs(req), "--close_interiors")
}

func TestCLIRunWrapsFailures(t *testing.T) {
	t.Parallel()

	cli := NewCLI("sh", nil, nil)

	err := cli.run(context.Background(), "inference run", []string{"-c", "echo output tail >&2; exit 3"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrEngineFailure))

	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "inference run", engineErr.Stage)
	assert.Contains(t, engineErr.Output, "output tail")
	assert.Contains(t, engineErr.Error(), "inference run failed")
}

func TestCLIRunSucceeds(t *testing.T) {
	t.Parallel()

	cli := NewCLI("sh", nil, nil)
	assert.NoError(t, cli.run(context.Background(), "inference run", []string{"-c", "true"}))
}

func TestCLIRunHonorsContext(t *testing.T) {
	t.Parallel()

	cli := NewCLI("sh", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := cli.run(ctx, "inference run", []string{"-c", "sleep 5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrEngineFailure))
}

func TestEngineErrorWithoutOutput(t *testing.T) {
	t.Parallel()

	err := &EngineError{Stage: "polygonize", Err: errors.New("exit status 1")}
	assert.Equal(t, "polygonize failed: exit status 1", err.Error())
}

func TestTailTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", outputTailBytes+500)
	assert.Len(t, tail([]byte(long)), outputTailBytes)
	assert.Equal(t, "short", tail([]byte("short\n")))
}
