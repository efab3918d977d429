package units

import "math"

// CentimetersPerMeter converts tracking-space meters to display centimeters.
const CentimetersPerMeter = 100.0

// MetersToCentimeters converts a length in meters to centimeters.
func MetersToCentimeters(m float64) float64 {
	return m * CentimetersPerMeter
}

// TruncateCentimeters drops the fractional part of a centimeter value for
// display. NaN and infinities truncate to 0.
func TruncateCentimeters(cm float64) int {
	if math.IsNaN(cm) || math.IsInf(cm, 0) {
		return 0
	}
	return int(cm)
}
