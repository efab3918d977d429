package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Keypoint2D is a detected landmark in normalized image coordinates.
// Confidence is in [0,1]; zero means the detector did not report one.
type Keypoint2D struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Vec returns the keypoint as a 2D vector.
func (k Keypoint2D) Vec() r2.Vec { return r2.Vec{X: k.X, Y: k.Y} }

// Valid reports whether the keypoint lies inside the normalized frame.
func (k Keypoint2D) Valid() bool {
	return Finite(k.X, k.Y) && k.X >= 0 && k.X <= 1 && k.Y >= 0 && k.Y <= 1
}

// Joint3D is a tracked skeletal joint in tracking space (meters).
type Joint3D struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Tracked bool    `json:"tracked"`
}

// Vec returns the joint position as a 3D vector.
func (j Joint3D) Vec() r3.Vec { return r3.Vec{X: j.X, Y: j.Y, Z: j.Z} }

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
