package measure

import (
	"fmt"

	"github.com/banshee-data/measurefirst/internal/units"
)

// Source identifies which observation path produced a measurement.
type Source string

const (
	SourceJoints    Source = "joints"    // 3D body tracking
	SourceKeypoints Source = "keypoints" // 2D pose + monocular distance
	SourceCamera    Source = "camera"    // device translation
	SourceFeatures  Source = "features"  // nearest depth feature point
	SourceObject    Source = "object"    // 2D object center in pixels
)

// Height is a body height estimate.
type Height struct {
	Centimeters float64 `json:"centimeters"`
	Source      Source  `json:"source"`
	Timestamp   float64 `json:"timestamp"`
}

// DisplayCentimeters truncates the estimate for display.
func (h Height) DisplayCentimeters() int {
	return units.TruncateCentimeters(h.Centimeters)
}

func (h Height) String() string {
	return fmt.Sprintf("%d cm", h.DisplayCentimeters())
}

// Speed is an instantaneous speed estimate. Suppressed is set when the raw
// value fell below the noise threshold and was reported as zero.
type Speed struct {
	MPS        float64 `json:"mps"`
	KMPH       float64 `json:"kmph"`
	MPH        float64 `json:"mph"`
	Suppressed bool    `json:"suppressed,omitempty"`
	Source     Source  `json:"source"`
	Timestamp  float64 `json:"timestamp"`
}

// NewSpeed builds a Speed from meters per second, zeroing every unit when
// the km/h value is below thresholdKMPH.
func NewSpeed(mps, thresholdKMPH float64) Speed {
	kmph := units.ConvertSpeed(mps, units.KMPH)
	if kmph < thresholdKMPH {
		return Speed{Suppressed: true}
	}
	return Speed{
		MPS:  mps,
		KMPH: kmph,
		MPH:  units.ConvertSpeed(mps, units.MPH),
	}
}

// In returns the speed expressed in the given units.
func (s Speed) In(unit string) float64 {
	return units.ConvertSpeed(s.MPS, unit)
}

func (s Speed) String() string {
	return fmt.Sprintf("%.2f km/h, %.2f mph", s.KMPH, s.MPH)
}
