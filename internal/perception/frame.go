// Package perception decodes the per-frame detector output consumed by the
// estimators. Each frame is one JSON object on its own line; any detection
// may be absent, and absence is represented by a nil field.
package perception

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/measurefirst/internal/geometry"
)

// ErrNotFrame is returned for lines that are not JSON objects, such as
// banner or status text printed by a detector board.
var ErrNotFrame = errors.New("not a perception frame")

// Keypoints are the 2D body landmarks used for height.
type Keypoints struct {
	Nose       *geometry.Keypoint2D `json:"nose,omitempty"`
	LeftAnkle  *geometry.Keypoint2D `json:"left_ankle,omitempty"`
	RightAnkle *geometry.Keypoint2D `json:"right_ankle,omitempty"`
}

// Complete reports whether the head and both ankles were detected.
func (k Keypoints) Complete() bool {
	return k.Nose != nil && k.LeftAnkle != nil && k.RightAnkle != nil
}

// Box is a normalized bounding box.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Joints are the tracked 3D skeleton joints.
type Joints struct {
	Head      *geometry.Joint3D `json:"head,omitempty"`
	RightFoot *geometry.Joint3D `json:"right_foot,omitempty"`
}

// Tracked reports whether both joints are present and tracked.
func (j Joints) Tracked() bool {
	return j.Head != nil && j.RightFoot != nil && j.Head.Tracked && j.RightFoot.Tracked
}

// Point is an image-space point in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Depth is a row-major depth image in meters.
type Depth struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Data   []float32 `json:"data"`
}

// Map returns the depth image as a geometry.DepthMap.
func (d Depth) Map() geometry.DepthMap {
	return geometry.DepthMap{Width: d.Width, Height: d.Height, Depth: d.Data}
}

// Frame is one detector output.
type Frame struct {
	Subject string `json:"subject,omitempty"`
	// Timestamp is the capture time in seconds on a monotonic clock.
	Timestamp   float64 `json:"timestamp"`
	FrameWidth  float64 `json:"frame_width,omitempty"`
	FrameHeight float64 `json:"frame_height,omitempty"`
	// ViewHeight is the display height in pixels that face boxes are
	// measured against.
	ViewHeight float64 `json:"view_height,omitempty"`

	Keypoints       *Keypoints   `json:"keypoints,omitempty"`
	Face            *Box         `json:"face,omitempty"`
	Joints          *Joints      `json:"joints,omitempty"`
	Object          *Point       `json:"object,omitempty"`
	CameraTransform *[16]float64 `json:"camera_transform,omitempty"`
	FeaturePoints   [][3]float64 `json:"feature_points,omitempty"`
	Depth           *Depth       `json:"depth,omitempty"`
}

// DefaultSubject is used for frames that do not name a subject.
const DefaultSubject = "default"

// SubjectID returns the subject key, falling back to DefaultSubject.
func (f *Frame) SubjectID() string {
	if f.Subject == "" {
		return DefaultSubject
	}
	return f.Subject
}

// Features returns the feature point cloud as vectors.
func (f *Frame) Features() []r3.Vec {
	if len(f.FeaturePoints) == 0 {
		return nil
	}
	out := make([]r3.Vec, len(f.FeaturePoints))
	for i, p := range f.FeaturePoints {
		out[i] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

// Empty reports whether the frame carries no detections at all.
func (f *Frame) Empty() bool {
	return f.Keypoints == nil && f.Face == nil && f.Joints == nil && f.Object == nil &&
		f.CameraTransform == nil && len(f.FeaturePoints) == 0 && f.Depth == nil
}

// ParseFrame decodes one line of detector output.
func ParseFrame(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return nil, ErrNotFrame
	}
	var f Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks fields that would otherwise surface as confusing
// estimator errors.
func (f *Frame) Validate() error {
	if !geometry.Finite(f.Timestamp) || f.Timestamp < 0 {
		return fmt.Errorf("invalid frame timestamp %v", f.Timestamp)
	}
	if f.FrameWidth < 0 || f.FrameHeight < 0 || f.ViewHeight < 0 {
		return fmt.Errorf("negative frame dimensions %vx%v (view height %v)", f.FrameWidth, f.FrameHeight, f.ViewHeight)
	}
	if f.Depth != nil && len(f.Depth.Data) != f.Depth.Width*f.Depth.Height {
		return fmt.Errorf("depth data has %d values, want %dx%d", len(f.Depth.Data), f.Depth.Width, f.Depth.Height)
	}
	return nil
}

// PeekTimestamp extracts only the timestamp of a frame line. ok is false
// for lines that are not frames.
func PeekTimestamp(line string) (ts float64, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return 0, false
	}
	var peek struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(line), &peek); err != nil || peek.Timestamp == nil {
		return 0, false
	}
	return *peek.Timestamp, true
}
