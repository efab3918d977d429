// Package units provides shared constants and conversions for speed and
// length units used by the estimators and the API.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Conversion factors from meters per second. The mph factor is the
// three-decimal value the estimators have always reported with.
const (
	KMPHPerMPS = 3.6
	MPHPerMPS  = 2.237
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Measurements are stored in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * MPHPerMPS
	case KMPH, KPH:
		return speedMPS * KMPHPerMPS
	default:
		return speedMPS
	}
}

// ConvertToMPS converts a speed in the given units back to meters per second.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed / MPHPerMPS
	case KMPH, KPH:
		return speed / KMPHPerMPS
	default:
		return speed
	}
}
