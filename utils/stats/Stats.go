// Package stats implements summary statistics over sample lists
package stats

import (
	"errors"

	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// ErrNoSamples is returned when a summary is requested over zero
// samples. Aggregating nothing would silently produce NaN statistics,
// so callers are expected to treat this as a configuration fault.
var ErrNoSamples error = errors.New("no samples to aggregate")

// Summary holds the summary statistics of a list of samples
type Summary struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// FromSlice computes the Summary of a list of samples. The standard
// deviation of a single sample is reported as 0.
func FromSlice(samples []float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}

	std := 0.0
	if len(samples) > 1 {
		std = stat.StdDev(samples, nil)
	}

	return Summary{
		Mean: stat.Mean(samples, nil),
		Std:  std,
		Min:  floatutils.Min(samples...),
		Max:  floatutils.Max(samples...),
	}, nil
}

// AddTo records the summary into scalars under the keys
// prefix/mean, prefix/std, prefix/min, and prefix/max
func (s Summary) AddTo(scalars map[string]float64, prefix string) {
	scalars[prefix+"/mean"] = s.Mean
	scalars[prefix+"/std"] = s.Std
	scalars[prefix+"/min"] = s.Min
	scalars[prefix+"/max"] = s.Max
}
