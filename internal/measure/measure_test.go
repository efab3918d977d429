package measure

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestNewSpeed(t *testing.T) {
	tests := []struct {
		name       string
		mps        float64
		threshold  float64
		wantKMPH   float64
		wantMPH    float64
		suppressed bool
	}{
		{"walking pace", 5.0, 0.1, 18.0, 11.185, false},
		{"zero", 0, 0.1, 0, 0, true},
		{"jitter below threshold", 0.02, 0.1, 0, 0, true},
		{"just above threshold", 0.03, 0.1, 0.108, 0.06711, false},
		{"threshold disabled", 0.001, 0, 0.0036, 0.002237, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpeed(tt.mps, tt.threshold)
			if math.Abs(s.KMPH-tt.wantKMPH) > 1e-9 {
				t.Errorf("KMPH = %v, want %v", s.KMPH, tt.wantKMPH)
			}
			if math.Abs(s.MPH-tt.wantMPH) > 1e-9 {
				t.Errorf("MPH = %v, want %v", s.MPH, tt.wantMPH)
			}
			if s.Suppressed != tt.suppressed {
				t.Errorf("Suppressed = %v, want %v", s.Suppressed, tt.suppressed)
			}
			if tt.suppressed && (s.MPS != 0 || s.KMPH != 0 || s.MPH != 0) {
				t.Errorf("suppressed speed must be exactly zero, got %+v", s)
			}
		})
	}
}

func TestHeightDisplay(t *testing.T) {
	h := Height{Centimeters: 181.97}
	if got := h.DisplayCentimeters(); got != 181 {
		t.Errorf("DisplayCentimeters() = %d, want 181", got)
	}
	if h.String() != "181 cm" {
		t.Errorf("String() = %q", h.String())
	}
}

func TestReasonAndExpected(t *testing.T) {
	wrapped := fmt.Errorf("%w: face box height 0", ErrInvalidGeometry)

	tests := []struct {
		err      error
		reason   string
		expected bool
	}{
		{nil, "ok", false},
		{ErrMissingObservation, "missing_observation", true},
		{ErrNoPriorSample, "no_prior_sample", true},
		{wrapped, "invalid_geometry", false},
		{errors.New("boom"), "error", false},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.reason {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.reason)
		}
		if got := Expected(tt.err); got != tt.expected {
			t.Errorf("Expected(%v) = %v, want %v", tt.err, got, tt.expected)
		}
	}
}
