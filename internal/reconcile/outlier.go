package reconcile

import (
	"gonum.org/v1/gonum/stat"

	"co2trend/internal/dataset"
)

// OutlierFilter keeps values within K standard deviations of the mean.
type OutlierFilter struct {
	K float64
}

// Bounds is the acceptance interval fitted by an OutlierFilter.
type Bounds struct {
	Mean   float64
	StdDev float64
	Lower  float64
	Upper  float64
}

// Fit computes the mean and sample standard deviation of values and the
// resulting [Lower, Upper] interval. With fewer than two values the standard
// deviation is zero.
func (f OutlierFilter) Fit(values []float64) Bounds {
	if len(values) == 0 {
		return Bounds{}
	}
	mean := stat.Mean(values, nil)
	std := 0.0
	if len(values) > 1 {
		std = stat.StdDev(values, nil)
	}
	cutoff := std * f.K
	return Bounds{
		Mean:   mean,
		StdDev: std,
		Lower:  mean - cutoff,
		Upper:  mean + cutoff,
	}
}

// Contains reports whether v lies inside the closed interval.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// Apply returns the observations inside b, preserving order, plus the
// number removed.
func (b Bounds) Apply(obs []dataset.Observation) ([]dataset.Observation, int) {
	kept := make([]dataset.Observation, 0, len(obs))
	for _, o := range obs {
		if b.Contains(o.Y) {
			kept = append(kept, o)
		}
	}
	return kept, len(obs) - len(kept)
}

// Filter fits bounds over every observation's value and returns the
// observations inside them, preserving order, plus the number removed.
func (f OutlierFilter) Filter(obs []dataset.Observation) ([]dataset.Observation, Bounds, int) {
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.Y
	}
	b := f.Fit(values)
	kept, removed := b.Apply(obs)
	return kept, b, removed
}
