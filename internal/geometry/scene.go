package geometry

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// TranslationFromTransform extracts the translation column of a 4x4
// column-major rigid transform, as delivered for the device camera pose.
func TranslationFromTransform(m [16]float64) r3.Vec {
	return r3.Vec{X: m[12], Y: m[13], Z: m[14]}
}

// Nearest returns the point with the smallest z, the feature closest to the
// sensor along its viewing axis. ok is false for an empty cloud.
func Nearest(points []r3.Vec) (p r3.Vec, ok bool) {
	for i, pt := range points {
		if !Finite(pt.X, pt.Y, pt.Z) {
			continue
		}
		if !ok || pt.Z < p.Z {
			p, ok = points[i], true
		}
	}
	return p, ok
}

// ToView maps a normalized keypoint to view pixels. The detector's y axis
// points up while view y points down, so y is flipped.
func ToView(k Keypoint2D, width, height float64) r2.Vec {
	return r2.Vec{X: k.X * width, Y: (1 - k.Y) * height}
}

// DepthMap is a row-major float32 depth image in meters.
type DepthMap struct {
	Width  int
	Height int
	Depth  []float32
}

// At returns the depth at pixel (x, y).
func (d DepthMap) At(x, y int) (float32, bool) {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0, false
	}
	i := y*d.Width + x
	if i >= len(d.Depth) {
		return 0, false
	}
	return d.Depth[i], true
}

// Center returns the depth at the center pixel.
func (d DepthMap) Center() (float32, bool) {
	return d.At(d.Width/2, d.Height/2)
}
