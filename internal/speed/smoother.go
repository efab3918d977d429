package speed

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/measurefirst/internal/measure"
)

// Smoother replaces each reading with the median of the last Window
// readings, which removes single-frame spikes from detector jitter without
// lagging as much as a mean.
type Smoother struct {
	window int
	buf    []float64
	sorted []float64
}

// NewSmoother returns a rolling median over window samples. A window of 0
// or 1 passes readings through unchanged.
func NewSmoother(window int) *Smoother {
	if window < 1 {
		window = 1
	}
	return &Smoother{
		window: window,
		buf:    make([]float64, 0, window),
		sorted: make([]float64, 0, window),
	}
}

// Apply adds sp to the window and returns the smoothed reading, re-applying
// the noise floor to the median.
func (s *Smoother) Apply(sp measure.Speed, thresholdKMPH float64) measure.Speed {
	if s.window == 1 {
		return sp
	}
	if len(s.buf) == s.window {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
	}
	s.buf = append(s.buf, sp.MPS)

	s.sorted = append(s.sorted[:0], s.buf...)
	sort.Float64s(s.sorted)
	out := measure.NewSpeed(median(s.sorted), thresholdKMPH)
	out.Source = sp.Source
	out.Timestamp = sp.Timestamp
	return out
}

// median of sorted values. stat.Quantile with the empirical CDF returns the
// lower middle value of an even-length set, so those are averaged here.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Len returns the number of readings currently in the window.
func (s *Smoother) Len() int { return len(s.buf) }

// Reset clears the window.
func (s *Smoother) Reset() { s.buf = s.buf[:0] }
