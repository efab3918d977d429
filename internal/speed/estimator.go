package speed

import (
	"fmt"

	"github.com/banshee-data/measurefirst/internal/camera"
	"github.com/banshee-data/measurefirst/internal/geometry"
	"github.com/banshee-data/measurefirst/internal/measure"
)

// Config holds the speed estimator calibration.
type Config struct {
	// Camera converts image-space displacement to meters. Only the field of
	// view and object distance are used.
	Camera camera.Model
	// ThresholdKMPH is the noise floor; slower readings are reported as 0.
	ThresholdKMPH float64
	// MaxSpeedMPS rejects implausible jumps as invalid geometry. Zero
	// disables the check.
	MaxSpeedMPS float64
}

// DefaultConfig returns the motion preset with a 0.1 km/h noise floor.
func DefaultConfig() Config {
	return Config{Camera: camera.Motion(), ThresholdKMPH: 0.1}
}

// Sample is one timestamped position observation.
type Sample struct {
	Position geometry.Position
	// Timestamp is the capture time in seconds on a monotonic clock.
	Timestamp float64
	// FrameWidth is the frame width in pixels, required for image-space
	// positions.
	FrameWidth float64
	// Distance overrides the camera model's object distance for this
	// sample when positive.
	Distance float64
	Source   measure.Source
}

// MotionState is the previous sample remembered by an Estimator.
type MotionState struct {
	Position  geometry.Position
	Timestamp float64
	populated bool
}

// Empty reports whether no sample has been stored yet.
func (s MotionState) Empty() bool { return !s.populated }

// Estimator computes speed between consecutive samples.
type Estimator struct {
	cfg   Config
	state MotionState
}

// NewEstimator returns an Estimator with an empty MotionState.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// State returns a copy of the current MotionState.
func (e *Estimator) State() MotionState { return e.state }

// Reset returns the estimator to the Empty state.
func (e *Estimator) Reset() { e.state = MotionState{} }

// Update differences s against the stored sample and then stores s.
// Samples with non-finite coordinates or timestamps are rejected without
// touching the state.
func (e *Estimator) Update(s Sample) (measure.Speed, error) {
	if !s.Position.Finite() || !geometry.Finite(s.Timestamp) {
		return measure.Speed{}, fmt.Errorf("%w: non-finite sample", measure.ErrInvalidGeometry)
	}

	prev := e.state
	e.state = MotionState{Position: s.Position, Timestamp: s.Timestamp, populated: true}

	if !prev.populated {
		return measure.Speed{}, measure.ErrNoPriorSample
	}

	meters, err := e.displacement(prev.Position, s)
	if err != nil {
		return measure.Speed{}, err
	}

	elapsed := s.Timestamp - prev.Timestamp
	if elapsed <= 0 {
		return measure.Speed{}, fmt.Errorf("%w: elapsed time %.6fs", measure.ErrInvalidGeometry, elapsed)
	}

	mps := meters / elapsed
	if e.cfg.MaxSpeedMPS > 0 && mps > e.cfg.MaxSpeedMPS {
		return measure.Speed{}, fmt.Errorf("%w: implied speed %.2f m/s exceeds %.2f m/s",
			measure.ErrInvalidGeometry, mps, e.cfg.MaxSpeedMPS)
	}

	out := measure.NewSpeed(mps, e.cfg.ThresholdKMPH)
	out.Source = s.Source
	out.Timestamp = s.Timestamp
	return out, nil
}

// displacement returns the distance in meters from prev to the sample.
func (e *Estimator) displacement(prev geometry.Position, s Sample) (float64, error) {
	d, ok := geometry.Displacement(prev, s.Position)
	if !ok {
		return 0, fmt.Errorf("%w: position space changed from %s to %s",
			measure.ErrInvalidGeometry, prev.Space, s.Position.Space)
	}
	if s.Position.Space == geometry.SpaceWorld {
		return d, nil
	}

	dist := e.cfg.Camera.ObjectDistance
	if s.Distance > 0 {
		dist = s.Distance
	}
	mpp, err := e.cfg.Camera.MetersPerPixelAt(dist, s.FrameWidth)
	if err != nil {
		return 0, err
	}
	return mpp * d, nil
}
