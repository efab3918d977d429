package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Space is the coordinate space a Position is expressed in.
type Space int

const (
	// SpaceImage positions are image-plane pixels; Z is ignored.
	SpaceImage Space = iota
	// SpaceWorld positions are tracking-space meters.
	SpaceWorld
)

func (s Space) String() string {
	switch s {
	case SpaceImage:
		return "image"
	case SpaceWorld:
		return "world"
	default:
		return fmt.Sprintf("Space(%d)", int(s))
	}
}

// Position is a point in either image or world space.
type Position struct {
	Space Space
	X     float64
	Y     float64
	Z     float64
}

// ImagePosition returns a pixel-space position.
func ImagePosition(x, y float64) Position {
	return Position{Space: SpaceImage, X: x, Y: y}
}

// WorldPosition returns a metric tracking-space position.
func WorldPosition(v r3.Vec) Position {
	return Position{Space: SpaceWorld, X: v.X, Y: v.Y, Z: v.Z}
}

// Finite reports whether all coordinates are finite.
func (p Position) Finite() bool { return Finite(p.X, p.Y, p.Z) }

// Displacement returns the Euclidean distance between a and b in their
// native units. ok is false when the two positions are in different spaces.
func Displacement(a, b Position) (d float64, ok bool) {
	if a.Space != b.Space {
		return 0, false
	}
	if a.Space == SpaceImage {
		return r2.Norm(r2.Sub(r2.Vec{X: b.X, Y: b.Y}, r2.Vec{X: a.X, Y: a.Y})), true
	}
	return r3.Norm(r3.Sub(r3.Vec{X: b.X, Y: b.Y, Z: b.Z}, r3.Vec{X: a.X, Y: a.Y, Z: a.Z})), true
}
