package domain

import (
	"errors"
	"testing"
)

func TestInferenceParametersApplyDefaults(t *testing.T) {
	t.Parallel()

	params := InferenceParameters{Model: "2-class"}
	params.ApplyDefaults()

	if params.ResizeFactor != DefaultResizeFactor {
		t.Errorf("Expected resize factor %d, got %d", DefaultResizeFactor, params.ResizeFactor)
	}

	params = InferenceParameters{Model: "2-class", ResizeFactor: 4}
	params.ApplyDefaults()
	if params.ResizeFactor != 4 {
		t.Errorf("Expected explicit resize factor 4 to survive, got %d", params.ResizeFactor)
	}
}

func TestInferenceParametersValidate(t *testing.T) {
	t.Parallel()

	intPtr := func(v int) *int { return &v }

	cases := []struct {
		name    string
		params  InferenceParameters
		wantMsg string
	}{
		{
			name:   "valid",
			params: InferenceParameters{Model: "2-class", ResizeFactor: 2},
		},
		{
			name:    "missing model",
			params:  InferenceParameters{ResizeFactor: 2},
			wantMsg: "Model is required",
		},
		{
			name: "one image",
			params: InferenceParameters{
				Model:        "2-class",
				ResizeFactor: 2,
				Images:       []string{"https://example.com/a.tif"},
			},
			wantMsg: "Images must be a list of two items",
		},
		{
			name:    "zero resize factor",
			params:  InferenceParameters{Model: "2-class"},
			wantMsg: "Resize factor must be a positive number",
		},
		{
			name: "negative padding",
			params: InferenceParameters{
				Model:        "2-class",
				ResizeFactor: 2,
				Padding:      intPtr(-1),
			},
			wantMsg: "Padding must be null, a positive integer or 0",
		},
		{
			name: "patch size not multiple of 32",
			params: InferenceParameters{
				Model:        "2-class",
				ResizeFactor: 2,
				PatchSize:    intPtr(100),
			},
			wantMsg: "Patch size must be a multiple of 32.",
		},
		{
			name: "valid patch size",
			params: InferenceParameters{
				Model:        "2-class",
				ResizeFactor: 2,
				PatchSize:    intPtr(256),
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.params.Validate()
			if tc.wantMsg == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected error to match ErrValidation, got %v", err)
			}
			if err.Error() != tc.wantMsg {
				t.Errorf("Expected message %q, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestInferenceParametersValidateImageURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		images  []string
		wantMsg string
	}{
		{
			name: "valid pair",
			images: []string{
				"https://example.com/window_a.tif",
				"http://example.com/window_b.tif",
			},
		},
		{
			name:    "missing",
			images:  nil,
			wantMsg: "Images must be a list of two items",
		},
		{
			name:    "one item",
			images:  []string{"https://example.com/a.tif"},
			wantMsg: "Images must be a list of two items",
		},
		{
			name: "invalid characters",
			images: []string{
				"https://example.com/a b.tif",
				"https://example.com/b.tif",
			},
			wantMsg: "URL 'https://example.com/a b.tif' contains invalid characters",
		},
		{
			name: "not http",
			images: []string{
				"ftp://example.com/a.tif",
				"https://example.com/b.tif",
			},
			wantMsg: "URL 'ftp://example.com/a.tif' contains invalid characters",
		},
		{
			name: "no path",
			images: []string{
				"https://example.com",
				"https://example.com/b.tif",
			},
			wantMsg: "URL 'https://example.com' is invalid",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			params := InferenceParameters{Model: "2-class", ResizeFactor: 2, Images: tc.images}
			err := params.ValidateImageURLs()
			if tc.wantMsg == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected error to match ErrValidation, got %v", err)
			}
			if err.Error() != tc.wantMsg {
				t.Errorf("Expected message %q, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestPolygonizationParametersApplyDefaults(t *testing.T) {
	t.Parallel()

	params := PolygonizationParameters{}
	params.ApplyDefaults()

	if params.Simplify == nil || *params.Simplify != DefaultSimplify {
		t.Errorf("Expected simplify %v, got %v", float64(DefaultSimplify), params.Simplify)
	}

	if params.MinSize == nil || *params.MinSize != DefaultMinSize {
		t.Errorf("Expected min size %v, got %v", float64(DefaultMinSize), params.MinSize)
	}

	if params.CloseInteriors {
		t.Error("Expected close_interiors to default to false")
	}
}

func TestPolygonizationParametersExplicitZeroPreserved(t *testing.T) {
	t.Parallel()

	floatPtr := func(v float64) *float64 { return &v }

	params := PolygonizationParameters{Simplify: floatPtr(0), MinSize: floatPtr(0)}
	params.ApplyDefaults()

	if params.Simplify == nil || *params.Simplify != 0 {
		t.Errorf("Expected explicit simplify 0 to survive defaulting, got %v", params.Simplify)
	}

	if params.MinSize == nil || *params.MinSize != 0 {
		t.Errorf("Expected explicit min size 0 to survive defaulting, got %v", params.MinSize)
	}

	if err := params.Validate(); err != nil {
		t.Errorf("Expected explicit zeros to validate, got %v", err)
	}
}

func TestPolygonizationParametersValidate(t *testing.T) {
	t.Parallel()

	floatPtr := func(v float64) *float64 { return &v }

	valid := PolygonizationParameters{Simplify: floatPtr(15), MinSize: floatPtr(500)}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalid := PolygonizationParameters{Simplify: floatPtr(-1)}
	if err := invalid.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	invalid = PolygonizationParameters{MinSize: floatPtr(-5)}
	if err := invalid.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
