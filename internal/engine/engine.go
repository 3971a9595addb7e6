// Package engine runs the field delineation tooling. The production
// implementation shells out to the ftw CLI; tests substitute the
// interfaces with stubs.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrEngineFailure is the class of errors raised when the underlying
// tooling exits unsuccessfully. Use errors.Is against this sentinel to
// detect any engine failure.
var ErrEngineFailure = errors.New("engine failure")

// InferenceRequest describes one inference run: which scenes to process
// and how to window and resize the raster. When SceneURLs is set the
// engine first materializes the combined image at ImagePath; otherwise
// ImagePath must already hold a prepared image.
type InferenceRequest struct {
	SceneURLs    []string
	BBox         []float64
	ImagePath    string
	OutputPath   string
	ModelFile    string
	ResizeFactor int
	Padding      *int
	PatchSize    *int
	GPU          *int
}

// PolygonizeRequest describes the conversion of a segmentation raster
// into field boundary polygons. The output format follows the OutputPath
// extension (.json for GeoJSON, .ndjson for newline-delimited GeoJSON).
type PolygonizeRequest struct {
	InputPath      string
	OutputPath     string
	Simplify       float64
	MinSize        float64
	CloseInteriors bool
}

// InferenceEngine produces a segmentation raster from satellite scenes.
type InferenceEngine interface {
	RunInference(ctx context.Context, req InferenceRequest) error
}

// PolygonizationEngine turns a segmentation raster into polygons.
type PolygonizationEngine interface {
	Polygonize(ctx context.Context, req PolygonizeRequest) error
}

// EngineError captures a failed tooling invocation along with the tail of
// its output, which usually carries the actual cause.
type EngineError struct {
	Stage  string
	Err    error
	Output string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Stage, e.Err, e.Output)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Is reports whether the target is the engine failure class.
func (e *EngineError) Is(target error) bool {
	return target == ErrEngineFailure
}

// Unwrap returns the underlying execution error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
