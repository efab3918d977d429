package distance

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/measurefirst/internal/camera"
	"github.com/banshee-data/measurefirst/internal/measure"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		model    camera.Model
		want     float64
	}{
		{"face 115px", 115, camera.FaceHeight(), 2.0},
		{"face 230px", 230, camera.FaceHeight(), 1.0},
		{"pose half frame", 0.5, camera.PoseRatio(), 100},
		{"custom", 10, camera.Model{Name: "custom", FocalLength: 4, ReferenceSize: 0.5}, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Estimate(tt.observed, tt.model)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Estimate(%v) = %v, want %v", tt.observed, got, tt.want)
			}
		})
	}
}

func TestEstimateInvalid(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		model    camera.Model
	}{
		{"zero observed", 0, camera.FaceHeight()},
		{"negative observed", -12, camera.FaceHeight()},
		{"NaN observed", math.NaN(), camera.FaceHeight()},
		{"Inf observed", math.Inf(1), camera.FaceHeight()},
		{"uncalibrated model", 100, camera.Model{Name: "empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Estimate(tt.observed, tt.model)
			if !errors.Is(err, measure.ErrInvalidGeometry) {
				t.Fatalf("err = %v, want ErrInvalidGeometry", err)
			}
			if got != 0 || math.IsInf(got, 0) {
				t.Errorf("got %v alongside error", got)
			}
		})
	}
}

func TestFromFaceBox(t *testing.T) {
	got, err := FromFaceBox(0.1, 1150, camera.FaceHeight())
	if err != nil {
		t.Fatalf("FromFaceBox: %v", err)
	}
	if math.Abs(got-2.0) > 1e-12 {
		t.Errorf("FromFaceBox = %v, want 2", got)
	}
	if _, err := FromFaceBox(0.1, 0, camera.FaceHeight()); !errors.Is(err, measure.ErrInvalidGeometry) {
		t.Errorf("zero view height err = %v", err)
	}
	if _, err := FromFaceBox(0, 844, camera.FaceHeight()); !errors.Is(err, measure.ErrInvalidGeometry) {
		t.Errorf("zero box err = %v", err)
	}
}

func TestFromHeadToFeet(t *testing.T) {
	got, err := FromHeadToFeet(0.9, 0.4, camera.PoseRatio())
	if err != nil {
		t.Fatalf("FromHeadToFeet: %v", err)
	}
	if math.Abs(got-100) > 1e-9 {
		t.Errorf("FromHeadToFeet = %v, want 100", got)
	}
	// Inverted keypoints still give a positive separation.
	inv, err := FromHeadToFeet(0.4, 0.9, camera.PoseRatio())
	if err != nil || math.Abs(inv-got) > 1e-12 {
		t.Errorf("inverted = %v, %v; want %v", inv, err, got)
	}
	if _, err := FromHeadToFeet(0.5, 0.5, camera.PoseRatio()); !errors.Is(err, measure.ErrInvalidGeometry) {
		t.Errorf("zero separation err = %v", err)
	}
}
