// Package camera provides the camera-model parameters shared by the distance,
// height and speed estimators.
//
// A Model is a set of calibration constants, not a per-frame measurement.
// The two monocular distance conventions in use (face height in pixels and
// head-to-feet image ratio) were tuned independently and are not numerically
// interchangeable, so each is a named preset rather than one merged value.
package camera

import (
	"fmt"
	"math"

	"github.com/banshee-data/measurefirst/internal/measure"
)

// Preset names.
const (
	PresetFaceHeight = "face_height"
	PresetPoseRatio  = "pose_ratio"
	PresetMotion     = "motion"
)

// Model holds camera calibration constants. FocalLength and ReferenceSize
// are in whatever units the preset's observed size uses, so that
// ReferenceSize*FocalLength/observed yields meters.
type Model struct {
	Name string `json:"name"`

	// Pinhole distance parameters.
	FocalLength   float64 `json:"focal_length"`
	ReferenceSize float64 `json:"reference_size"`

	// Field-of-view parameters for pixel to meter conversion.
	FieldOfViewDegrees float64 `json:"field_of_view_degrees"`
	ObjectDistance     float64 `json:"object_distance"`
}

// FaceHeight is the face bounding-box preset: average adult head height of
// 0.23 m against a 1000 px focal length. Observed size is the face box
// height in view pixels.
func FaceHeight() Model {
	return Model{Name: PresetFaceHeight, FocalLength: 1000, ReferenceSize: 0.23}
}

// PoseRatio is the head-to-feet preset: a unit reference against an ad-hoc
// focal constant of 50. Observed size is the normalized vertical
// head-to-feet separation.
func PoseRatio() Model {
	return Model{Name: PresetPoseRatio, FocalLength: 50, ReferenceSize: 1}
}

// Motion is the speed preset: 60 degree horizontal field of view with the
// subject assumed 5 m away.
func Motion() Model {
	return Model{Name: PresetMotion, FieldOfViewDegrees: 60, ObjectDistance: 5}
}

// Presets groups the models used by one deployment.
type Presets struct {
	Face   Model
	Pose   Model
	Motion Model
}

// DefaultPresets returns the built-in calibration.
func DefaultPresets() Presets {
	return Presets{Face: FaceHeight(), Pose: PoseRatio(), Motion: Motion()}
}

// ByName looks a preset up by its name.
func (p Presets) ByName(name string) (Model, bool) {
	switch name {
	case PresetFaceHeight:
		return p.Face, true
	case PresetPoseRatio:
		return p.Pose, true
	case PresetMotion:
		return p.Motion, true
	}
	return Model{}, false
}

// HalfAngle returns half the field of view in radians.
func (m Model) HalfAngle() float64 {
	return m.FieldOfViewDegrees * math.Pi / 180 / 2
}

// MetersPerPixel returns the width in meters covered by one pixel at
// ObjectDistance: 2*d*tan(fov/2)/frameWidth.
func (m Model) MetersPerPixel(frameWidthPixels float64) (float64, error) {
	return m.MetersPerPixelAt(m.ObjectDistance, frameWidthPixels)
}

// MetersPerPixelAt is MetersPerPixel with an explicit subject distance.
func (m Model) MetersPerPixelAt(distance, frameWidthPixels float64) (float64, error) {
	if !(frameWidthPixels > 0) || math.IsInf(frameWidthPixels, 0) {
		return 0, fmt.Errorf("%w: frame width %v px", measure.ErrInvalidGeometry, frameWidthPixels)
	}
	if !(distance > 0) || math.IsInf(distance, 0) {
		return 0, fmt.Errorf("%w: object distance %v m", measure.ErrInvalidGeometry, distance)
	}
	if !(m.FieldOfViewDegrees > 0 && m.FieldOfViewDegrees < 180) {
		return 0, fmt.Errorf("%w: field of view %v deg", measure.ErrInvalidGeometry, m.FieldOfViewDegrees)
	}
	return 2 * distance * math.Tan(m.HalfAngle()) / frameWidthPixels, nil
}

// PixelsToMeters converts a pixel displacement to meters at ObjectDistance.
func (m Model) PixelsToMeters(pixels, frameWidthPixels float64) (float64, error) {
	mpp, err := m.MetersPerPixel(frameWidthPixels)
	if err != nil {
		return 0, err
	}
	return mpp * pixels, nil
}

// Validate checks the parameters a preset needs are usable. Pinhole presets
// need a focal length and reference size; the motion preset needs a field
// of view and object distance.
func (m Model) Validate() error {
	switch m.Name {
	case PresetMotion:
		if !(m.FieldOfViewDegrees > 0 && m.FieldOfViewDegrees < 180) {
			return fmt.Errorf("%s: field of view must be in (0, 180) degrees, got %v", m.Name, m.FieldOfViewDegrees)
		}
		if !(m.ObjectDistance > 0) {
			return fmt.Errorf("%s: object distance must be positive, got %v", m.Name, m.ObjectDistance)
		}
	default:
		if !(m.FocalLength > 0) {
			return fmt.Errorf("%s: focal length must be positive, got %v", m.Name, m.FocalLength)
		}
		if !(m.ReferenceSize > 0) {
			return fmt.Errorf("%s: reference size must be positive, got %v", m.Name, m.ReferenceSize)
		}
	}
	return nil
}
