// Package geo provides bounding box validation and area estimation for
// EPSG:4326 coordinates.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// earthRadiusKm is the mean Earth radius used for the equirectangular
// area approximation.
const earthRadiusKm = 6371.0

// AreaKm2 estimates the area of a [minLon, minLat, maxLon, maxLat]
// bounding box in square kilometers using an equirectangular
// approximation. Accurate enough at the scales this service accepts;
// callers must validate the box first.
func AreaKm2(bbox []float64) float64 {
	minLon, minLat, maxLon, maxLat := bbox[0], bbox[1], bbox[2], bbox[3]

	latDist := earthRadiusKm * radians(maxLat-minLat)

	avgLat := (minLat + maxLat) / 2
	lonDist := earthRadiusKm * math.Cos(radians(avgLat)) * radians(maxLon-minLon)

	return math.Abs(latDist * lonDist)
}

// ValidateBBox checks that a bounding box is well formed: four values,
// coordinates within EPSG:4326 range and min strictly below max.
func ValidateBBox(bbox []float64) error {
	if len(bbox) != 4 {
		return domain.NewValidationError("Bounding box must be in format [minX, minY, maxX, maxY]")
	}

	minLon, minLat, maxLon, maxLat := bbox[0], bbox[1], bbox[2], bbox[3]

	if minLon < -180 || minLon > 180 || maxLon < -180 || maxLon > 180 {
		return domain.NewValidationError("Longitude values must be between -180 and 180 degrees in EPSG:4326")
	}

	if minLat < -90 || minLat > 90 || maxLat < -90 || maxLat > 90 {
		return domain.NewValidationError("Latitude values must be between -90 and 90 degrees in EPSG:4326")
	}

	if minLon >= maxLon || minLat >= maxLat {
		return domain.NewValidationError("Invalid bounding box: min values must be less than max values")
	}

	return nil
}

// AreaLimits bounds the requested bounding box area for a processing path.
// Project selects the project-path message when the area is too large;
// otherwise the example-path message is used.
type AreaLimits struct {
	MinKm2  float64
	MaxKm2  float64
	Project bool
}

// ValidateArea checks that a bounding box is well formed and that its area
// falls within the given limits. Returns the computed area in km².
func ValidateArea(bbox []float64, limits AreaLimits) (float64, error) {
	if err := ValidateBBox(bbox); err != nil {
		return 0, err
	}

	area := AreaKm2(bbox)

	if area < limits.MinKm2 {
		return 0, domain.NewValidationError(
			"Area too small. Minimum area is %s km².", formatKm2(limits.MinKm2))
	}

	if area > limits.MaxKm2 {
		if limits.Project {
			return 0, domain.NewValidationError(
				"Area too large for project processing. Maximum allowed area is %s km².",
				formatKm2(limits.MaxKm2))
		}
		return 0, domain.NewValidationError(
			"Area too large for example endpoint. Maximum allowed area is %s km². "+
				"Please create a project instead.", formatKm2(limits.MaxKm2))
	}

	return area, nil
}

// FormatBBox renders a bounding box as the comma-separated string the
// inference tooling expects.
func FormatBBox(bbox []float64) string {
	parts := make([]string, len(bbox))
	for i, v := range bbox {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func formatKm2(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
