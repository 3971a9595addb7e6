package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImageWindow identifies which temporal window an uploaded scene covers.
// Field delineation runs on a pair of scenes from two points in the season.
type ImageWindow string

// Supported image windows
const (
	ImageWindowA ImageWindow = "a"
	ImageWindowB ImageWindow = "b"
)

// Common validation errors for Image
var (
	ErrEmptyImageID        = errors.New("image ID cannot be empty")
	ErrEmptyImageProjectID = errors.New("image project ID cannot be empty")
	ErrInvalidImageWindow  = errors.New("image window must be 'a' or 'b'")
	ErrEmptyImageKey       = errors.New("image storage key cannot be empty")
)

// Image represents a GeoTIFF scene uploaded to a project for one of the
// two temporal windows. Re-uploading a window replaces the previous scene.
type Image struct {
	ID        uuid.UUID   `json:"id"`
	ProjectID string      `json:"project_id"`
	Window    ImageWindow `json:"window"`
	Key       string      `json:"key"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewImage creates a new Image record for the given project and window
// pointing at a stored object. Returns an error if validation fails.
func NewImage(projectID string, window ImageWindow, key string) (*Image, error) {
	image := &Image{
		ID:        uuid.New(),
		ProjectID: projectID,
		Window:    window,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}

	if err := image.Validate(); err != nil {
		return nil, err
	}

	return image, nil
}

// Validate checks if the Image has valid data.
// Returns an error if any field fails validation.
func (i *Image) Validate() error {
	if i.ID == uuid.Nil {
		return ErrEmptyImageID
	}

	if i.ProjectID == "" {
		return ErrEmptyImageProjectID
	}

	if i.Window != ImageWindowA && i.Window != ImageWindowB {
		return ErrInvalidImageWindow
	}

	if i.Key == "" {
		return ErrEmptyImageKey
	}

	return nil
}

// ParseImageWindow converts a string to an ImageWindow.
// Returns an error for anything other than "a" or "b".
func ParseImageWindow(s string) (ImageWindow, error) {
	switch s {
	case "a":
		return ImageWindowA, nil
	case "b":
		return ImageWindowB, nil
	default:
		return "", ErrInvalidImageWindow
	}
}
