// Package height estimates standing body height from either tracked 3D
// joints or 2D pose keypoints combined with a distance estimate.
package height

import (
	"fmt"
	"math"

	"github.com/banshee-data/measurefirst/internal/geometry"
	"github.com/banshee-data/measurefirst/internal/measure"
	"github.com/banshee-data/measurefirst/internal/units"
)

// Config controls the 2D keypoint path. The 3D path has no parameters.
type Config struct {
	// ScaleFactor multiplies normalized separation times distance. The
	// default of 100 yields centimeters.
	ScaleFactor float64
	// MinConfidence rejects keypoints the detector reported with a lower
	// confidence. Keypoints with no reported confidence are accepted.
	MinConfidence float64
}

// DefaultConfig returns the calibration the 2D path ships with.
func DefaultConfig() Config {
	return Config{ScaleFactor: units.CentimetersPerMeter}
}

// Estimator estimates height. It holds no per-frame state.
type Estimator struct {
	cfg Config
}

// NewEstimator returns an Estimator for cfg.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate3D returns |head.y - foot.y| in centimeters. Only one foot is
// used as the ground reference; a raised foot under-reads the height.
func (e *Estimator) Estimate3D(head, foot geometry.Joint3D) (measure.Height, error) {
	if !head.Tracked || !foot.Tracked {
		return measure.Height{}, fmt.Errorf("%w: head tracked=%t foot tracked=%t",
			measure.ErrMissingObservation, head.Tracked, foot.Tracked)
	}
	if !geometry.Finite(head.Y, foot.Y) {
		return measure.Height{}, fmt.Errorf("%w: non-finite joint height", measure.ErrInvalidGeometry)
	}
	return measure.Height{
		Centimeters: units.MetersToCentimeters(math.Abs(head.Y - foot.Y)),
		Source:      measure.SourceJoints,
	}, nil
}

// Estimate2D scales the normalized separation between the head keypoint and
// the lower ankle by distanceMeters. It is a monocular approximation and is
// only as accurate as the distance estimate.
func (e *Estimator) Estimate2D(head, leftAnkle, rightAnkle geometry.Keypoint2D, distanceMeters float64) (measure.Height, error) {
	for _, kp := range []geometry.Keypoint2D{head, leftAnkle, rightAnkle} {
		if !geometry.Finite(kp.X, kp.Y) {
			return measure.Height{}, fmt.Errorf("%w: non-finite keypoint", measure.ErrInvalidGeometry)
		}
		if kp.Confidence > 0 && kp.Confidence < e.cfg.MinConfidence {
			return measure.Height{}, fmt.Errorf("%w: keypoint confidence %.2f below %.2f",
				measure.ErrMissingObservation, kp.Confidence, e.cfg.MinConfidence)
		}
	}
	if !(distanceMeters > 0) || math.IsInf(distanceMeters, 0) {
		return measure.Height{}, fmt.Errorf("%w: distance %v m", measure.ErrInvalidGeometry, distanceMeters)
	}

	normalized := head.Y - FeetY(leftAnkle, rightAnkle)
	if !(normalized > 0) {
		return measure.Height{}, fmt.Errorf("%w: head-to-feet separation %.4f", measure.ErrInvalidGeometry, normalized)
	}
	return measure.Height{
		Centimeters: normalized * distanceMeters * e.cfg.ScaleFactor,
		Source:      measure.SourceKeypoints,
	}, nil
}

// FeetY returns the lower of the two ankle keypoints. With y growing
// upwards the smaller value is the foot nearer the ground.
func FeetY(leftAnkle, rightAnkle geometry.Keypoint2D) float64 {
	return math.Min(leftAnkle.Y, rightAnkle.Y)
}
