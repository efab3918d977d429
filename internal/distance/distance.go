// Package distance estimates the distance from the camera to a subject with
// a pinhole camera model.
package distance

import (
	"fmt"
	"math"

	"github.com/banshee-data/measurefirst/internal/camera"
	"github.com/banshee-data/measurefirst/internal/measure"
)

// Estimate returns (ReferenceSize * FocalLength) / observed, in meters.
// observed must be in the same units the preset's focal length assumes.
func Estimate(observed float64, m camera.Model) (float64, error) {
	if !(observed > 0) || math.IsInf(observed, 0) {
		return 0, fmt.Errorf("%w: observed reference size %v", measure.ErrInvalidGeometry, observed)
	}
	if !(m.FocalLength > 0) || !(m.ReferenceSize > 0) {
		return 0, fmt.Errorf("%w: %s preset has focal length %v and reference size %v",
			measure.ErrInvalidGeometry, m.Name, m.FocalLength, m.ReferenceSize)
	}
	return m.ReferenceSize * m.FocalLength / observed, nil
}

// FromFaceBox estimates distance from a face bounding box whose height is
// normalized to the frame, drawn into a view viewHeightPixels tall.
func FromFaceBox(boxHeightNorm, viewHeightPixels float64, m camera.Model) (float64, error) {
	if !(viewHeightPixels > 0) {
		return 0, fmt.Errorf("%w: view height %v px", measure.ErrInvalidGeometry, viewHeightPixels)
	}
	return Estimate(boxHeightNorm*viewHeightPixels, m)
}

// FromHeadToFeet estimates distance from the normalized vertical separation
// of the head and feet keypoints.
func FromHeadToFeet(headY, feetY float64, m camera.Model) (float64, error) {
	return Estimate(math.Abs(headY-feetY), m)
}
