package domain

import (
	"net/url"
	"regexp"
)

// Default processing parameter values applied when a request omits them.
const (
	DefaultResizeFactor = 2
	DefaultSimplify     = 15
	DefaultMinSize      = 500
)

// imageURLPattern restricts scene URLs to a conservative character set.
var imageURLPattern = regexp.MustCompile(`(?i)^https?://[\w/.-]+$`)

// InferenceParameters configure an inference run: which scenes to process,
// which model to apply and how to window the raster.
type InferenceParameters struct {
	Model        string    `json:"model" validate:"required"`
	BBox         []float64 `json:"bbox,omitempty" validate:"omitempty,len=4"`
	Images       []string  `json:"images,omitempty" validate:"omitempty,len=2,dive,url"`
	ResizeFactor int       `json:"resize_factor" validate:"gt=0"`
	PatchSize    *int      `json:"patch_size,omitempty"`
	Padding      *int      `json:"padding,omitempty"`
}

// ApplyDefaults fills unset fields with their default values.
func (p *InferenceParameters) ApplyDefaults() {
	if p.ResizeFactor == 0 {
		p.ResizeFactor = DefaultResizeFactor
	}
}

// Validate checks the structural constraints on inference parameters.
// Model existence and area limits are checked by the caller, which knows
// the configured model registry and endpoint limits.
func (p *InferenceParameters) Validate() error {
	if p.Model == "" {
		return NewValidationError("Model is required")
	}

	if p.Images != nil && len(p.Images) != 2 {
		return NewValidationError("Images must be a list of two items")
	}

	if p.ResizeFactor <= 0 {
		return NewValidationError("Resize factor must be a positive number")
	}

	if p.Padding != nil && *p.Padding < 0 {
		return NewValidationError("Padding must be null, a positive integer or 0")
	}

	if p.PatchSize != nil && *p.PatchSize%32 != 0 {
		return NewValidationError("Patch size must be a multiple of 32.")
	}

	return nil
}

// ValidateImageURLs checks that exactly two well-formed scene URLs are
// present. Paths that download imagery by URL require this; file-based
// processing does not.
func (p *InferenceParameters) ValidateImageURLs() error {
	if len(p.Images) != 2 {
		return NewValidationError("Images must be a list of two items")
	}

	for _, raw := range p.Images {
		if !imageURLPattern.MatchString(raw) {
			return NewValidationError("URL '%s' contains invalid characters", raw)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Path == "" {
			return NewValidationError("URL '%s' is invalid", raw)
		}
	}

	return nil
}

// PolygonizationParameters configure how a segmentation raster is turned
// into field boundary polygons. Simplify and MinSize are pointers so an
// explicit 0 survives defaulting; nil means the field was omitted.
type PolygonizationParameters struct {
	Simplify       *float64 `json:"simplify,omitempty"`
	MinSize        *float64 `json:"min_size,omitempty"`
	CloseInteriors bool     `json:"close_interiors"`
}

// ApplyDefaults fills omitted fields with their default values.
func (p *PolygonizationParameters) ApplyDefaults() {
	if p.Simplify == nil {
		v := float64(DefaultSimplify)
		p.Simplify = &v
	}
	if p.MinSize == nil {
		v := float64(DefaultMinSize)
		p.MinSize = &v
	}
}

// Validate checks the structural constraints on polygonization parameters.
func (p *PolygonizationParameters) Validate() error {
	if p.Simplify != nil && *p.Simplify < 0 {
		return NewValidationError("Simplify must be a positive number or 0")
	}

	if p.MinSize != nil && *p.MinSize < 0 {
		return NewValidationError("Minimum size must be a positive number or 0")
	}

	return nil
}

// Parameters groups the per-project processing parameters. Each group is
// replaced wholesale when new parameters are submitted for its task type;
// the latest submission wins.
type Parameters struct {
	Inference *InferenceParameters      `json:"inference,omitempty"`
	Polygons  *PolygonizationParameters `json:"polygons,omitempty"`
}
