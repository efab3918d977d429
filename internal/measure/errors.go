package measure

import "errors"

var (
	// ErrMissingObservation reports that the detector produced no usable
	// keypoints or joints for this frame. The caller keeps the last value.
	ErrMissingObservation = errors.New("missing observation")

	// ErrInvalidGeometry reports a zero or negative denominator, or a
	// non-finite input, that would otherwise propagate NaN or Inf.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrNoPriorSample is returned for the first sample seen by a speed
	// estimator. It is expected and produces no output.
	ErrNoPriorSample = errors.New("no prior sample")
)

// Expected reports whether err is one of the per-frame conditions that the
// pipeline skips silently.
func Expected(err error) bool {
	return errors.Is(err, ErrMissingObservation) || errors.Is(err, ErrNoPriorSample)
}

// Reason returns a short stable label for err, used as a stats key.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingObservation):
		return "missing_observation"
	case errors.Is(err, ErrInvalidGeometry):
		return "invalid_geometry"
	case errors.Is(err, ErrNoPriorSample):
		return "no_prior_sample"
	default:
		return "error"
	}
}
