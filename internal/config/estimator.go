// Package config loads the estimator calibration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/measurefirst/internal/camera"
	"github.com/banshee-data/measurefirst/internal/height"
	"github.com/banshee-data/measurefirst/internal/speed"
)

// DefaultConfigPath is the path to the canonical estimator defaults file.
const DefaultConfigPath = "config/estimator.defaults.json"

// Distance sources for image-space speed.
const (
	DistanceSourceFixed = "fixed" // camera model object distance
	DistanceSourceFace  = "face"  // per-frame face box distance when present
)

// EstimatorConfig is the root calibration document. Every field is
// optional; the Get* accessors supply the built-in default for unset
// fields, so partial files are safe.
type EstimatorConfig struct {
	// Face bounding-box pinhole preset
	FaceFocalLengthPx    *float64 `json:"face_focal_length_px,omitempty"`
	FaceReferenceHeightM *float64 `json:"face_reference_height_m,omitempty"`

	// Head-to-feet ratio pinhole preset
	PoseFocalLength    *float64 `json:"pose_focal_length,omitempty"`
	PoseReferenceRatio *float64 `json:"pose_reference_ratio,omitempty"`

	// Motion preset
	FOVDegrees      *float64 `json:"fov_degrees,omitempty"`
	ObjectDistanceM *float64 `json:"object_distance_m,omitempty"`

	// Speed
	SpeedThresholdKMPH  *float64 `json:"speed_threshold_kmph,omitempty"`
	MaxSpeedMPS         *float64 `json:"max_speed_mps,omitempty"`
	SmoothingWindow     *int     `json:"smoothing_window,omitempty"`
	SpeedDistanceSource *string  `json:"speed_distance_source,omitempty"`
	SubjectTimeout      *string  `json:"subject_timeout,omitempty"` // duration string like "2s"

	// Height
	HeightScaleFactor     *float64 `json:"height_scale_factor,omitempty"`
	MinKeypointConfidence *float64 `json:"min_keypoint_confidence,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEstimatorConfig returns a config with every field unset.
func EmptyEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{}
}

// DefaultEstimatorConfig returns a config with every field set to its
// built-in default.
func DefaultEstimatorConfig() *EstimatorConfig {
	e := EmptyEstimatorConfig()
	return &EstimatorConfig{
		FaceFocalLengthPx:     ptrFloat64(e.GetFaceFocalLengthPx()),
		FaceReferenceHeightM:  ptrFloat64(e.GetFaceReferenceHeightM()),
		PoseFocalLength:       ptrFloat64(e.GetPoseFocalLength()),
		PoseReferenceRatio:    ptrFloat64(e.GetPoseReferenceRatio()),
		FOVDegrees:            ptrFloat64(e.GetFOVDegrees()),
		ObjectDistanceM:       ptrFloat64(e.GetObjectDistanceM()),
		SpeedThresholdKMPH:    ptrFloat64(e.GetSpeedThresholdKMPH()),
		MaxSpeedMPS:           ptrFloat64(e.GetMaxSpeedMPS()),
		SmoothingWindow:       ptrInt(e.GetSmoothingWindow()),
		SpeedDistanceSource:   ptrString(e.GetSpeedDistanceSource()),
		SubjectTimeout:        ptrString(e.GetSubjectTimeout().String()),
		HeightScaleFactor:     ptrFloat64(e.GetHeightScaleFactor()),
		MinKeypointConfidence: ptrFloat64(e.GetMinKeypointConfidence()),
	}
}

// LoadEstimatorConfig loads an EstimatorConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadEstimatorConfig(path string) (*EstimatorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEstimatorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded, intended for
// test setup.
func MustLoadDefaultConfig() *EstimatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/x/
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkPositive(name string, v *float64) error {
	if v != nil && (!(*v > 0) || math.IsInf(*v, 0)) {
		return fmt.Errorf("%s must be positive, got %v", name, *v)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *EstimatorConfig) Validate() error {
	positives := []struct {
		name string
		v    *float64
	}{
		{"face_focal_length_px", c.FaceFocalLengthPx},
		{"face_reference_height_m", c.FaceReferenceHeightM},
		{"pose_focal_length", c.PoseFocalLength},
		{"pose_reference_ratio", c.PoseReferenceRatio},
		{"object_distance_m", c.ObjectDistanceM},
		{"height_scale_factor", c.HeightScaleFactor},
	}
	for _, p := range positives {
		if err := checkPositive(p.name, p.v); err != nil {
			return err
		}
	}

	if c.FOVDegrees != nil && !(*c.FOVDegrees > 0 && *c.FOVDegrees < 180) {
		return fmt.Errorf("fov_degrees must be between 0 and 180, got %v", *c.FOVDegrees)
	}
	if c.SpeedThresholdKMPH != nil && !(*c.SpeedThresholdKMPH >= 0) {
		return fmt.Errorf("speed_threshold_kmph must be non-negative, got %v", *c.SpeedThresholdKMPH)
	}
	if c.MaxSpeedMPS != nil && !(*c.MaxSpeedMPS >= 0) {
		return fmt.Errorf("max_speed_mps must be non-negative, got %v", *c.MaxSpeedMPS)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 0 {
		return fmt.Errorf("smoothing_window must be non-negative, got %d", *c.SmoothingWindow)
	}
	if c.MinKeypointConfidence != nil && (*c.MinKeypointConfidence < 0 || *c.MinKeypointConfidence > 1) {
		return fmt.Errorf("min_keypoint_confidence must be between 0 and 1, got %v", *c.MinKeypointConfidence)
	}
	if c.SpeedDistanceSource != nil {
		switch *c.SpeedDistanceSource {
		case DistanceSourceFixed, DistanceSourceFace:
		default:
			return fmt.Errorf("speed_distance_source must be %q or %q, got %q",
				DistanceSourceFixed, DistanceSourceFace, *c.SpeedDistanceSource)
		}
	}
	if c.SubjectTimeout != nil && *c.SubjectTimeout != "" {
		if _, err := time.ParseDuration(*c.SubjectTimeout); err != nil {
			return fmt.Errorf("invalid subject_timeout '%s': %w", *c.SubjectTimeout, err)
		}
	}
	return nil
}

// GetFaceFocalLengthPx returns the face preset focal length or the default.
func (c *EstimatorConfig) GetFaceFocalLengthPx() float64 {
	if c.FaceFocalLengthPx == nil {
		return camera.FaceHeight().FocalLength
	}
	return *c.FaceFocalLengthPx
}

// GetFaceReferenceHeightM returns the assumed head height or the default.
func (c *EstimatorConfig) GetFaceReferenceHeightM() float64 {
	if c.FaceReferenceHeightM == nil {
		return camera.FaceHeight().ReferenceSize
	}
	return *c.FaceReferenceHeightM
}

// GetPoseFocalLength returns the pose-ratio focal constant or the default.
func (c *EstimatorConfig) GetPoseFocalLength() float64 {
	if c.PoseFocalLength == nil {
		return camera.PoseRatio().FocalLength
	}
	return *c.PoseFocalLength
}

// GetPoseReferenceRatio returns the pose-ratio reference size or the default.
func (c *EstimatorConfig) GetPoseReferenceRatio() float64 {
	if c.PoseReferenceRatio == nil {
		return camera.PoseRatio().ReferenceSize
	}
	return *c.PoseReferenceRatio
}

// GetFOVDegrees returns the horizontal field of view or the default.
func (c *EstimatorConfig) GetFOVDegrees() float64 {
	if c.FOVDegrees == nil {
		return camera.Motion().FieldOfViewDegrees
	}
	return *c.FOVDegrees
}

// GetObjectDistanceM returns the assumed subject distance or the default.
func (c *EstimatorConfig) GetObjectDistanceM() float64 {
	if c.ObjectDistanceM == nil {
		return camera.Motion().ObjectDistance
	}
	return *c.ObjectDistanceM
}

// GetSpeedThresholdKMPH returns the speed noise floor or the default.
func (c *EstimatorConfig) GetSpeedThresholdKMPH() float64 {
	if c.SpeedThresholdKMPH == nil {
		return 0.1
	}
	return *c.SpeedThresholdKMPH
}

// GetMaxSpeedMPS returns the implausible-speed limit; 0 disables it.
func (c *EstimatorConfig) GetMaxSpeedMPS() float64 {
	if c.MaxSpeedMPS == nil {
		return 0
	}
	return *c.MaxSpeedMPS
}

// GetSmoothingWindow returns the rolling median window; 1 disables it.
func (c *EstimatorConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 1
	}
	return *c.SmoothingWindow
}

// GetSpeedDistanceSource returns where image-space speed takes its subject
// distance from.
func (c *EstimatorConfig) GetSpeedDistanceSource() string {
	if c.SpeedDistanceSource == nil || *c.SpeedDistanceSource == "" {
		return DistanceSourceFixed
	}
	return *c.SpeedDistanceSource
}

// GetSubjectTimeout returns how long a subject may go unseen before its
// motion state is discarded.
func (c *EstimatorConfig) GetSubjectTimeout() time.Duration {
	if c.SubjectTimeout == nil || *c.SubjectTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.SubjectTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetHeightScaleFactor returns the 2D height scale factor or the default.
func (c *EstimatorConfig) GetHeightScaleFactor() float64 {
	if c.HeightScaleFactor == nil {
		return height.DefaultConfig().ScaleFactor
	}
	return *c.HeightScaleFactor
}

// GetMinKeypointConfidence returns the keypoint confidence floor.
func (c *EstimatorConfig) GetMinKeypointConfidence() float64 {
	if c.MinKeypointConfidence == nil {
		return 0
	}
	return *c.MinKeypointConfidence
}

// Presets builds the named camera models.
func (c *EstimatorConfig) Presets() camera.Presets {
	p := camera.DefaultPresets()
	p.Face.FocalLength = c.GetFaceFocalLengthPx()
	p.Face.ReferenceSize = c.GetFaceReferenceHeightM()
	p.Pose.FocalLength = c.GetPoseFocalLength()
	p.Pose.ReferenceSize = c.GetPoseReferenceRatio()
	p.Motion.FieldOfViewDegrees = c.GetFOVDegrees()
	p.Motion.ObjectDistance = c.GetObjectDistanceM()
	return p
}

// HeightConfig builds the height estimator configuration.
func (c *EstimatorConfig) HeightConfig() height.Config {
	return height.Config{
		ScaleFactor:   c.GetHeightScaleFactor(),
		MinConfidence: c.GetMinKeypointConfidence(),
	}
}

// SpeedConfig builds the speed estimator configuration.
func (c *EstimatorConfig) SpeedConfig() speed.Config {
	return speed.Config{
		Camera:        c.Presets().Motion,
		ThresholdKMPH: c.GetSpeedThresholdKMPH(),
		MaxSpeedMPS:   c.GetMaxSpeedMPS(),
	}
}
