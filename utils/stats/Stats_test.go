package stats_test

import (
	"errors"
	"math"
	"testing"

	"github.com/samuelfneumann/goppo/utils/stats"
)

// TestFromSlice checks the summary statistics of a small sample list
func TestFromSlice(t *testing.T) {
	summary, err := stats.FromSlice([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("fromslice: %v", err)
	}

	if summary.Mean != 2.5 {
		t.Errorf("mean: \n\twant(2.5)\n\thave(%v)", summary.Mean)
	}
	if summary.Min != 1 || summary.Max != 4 {
		t.Errorf("bounds: want [1, 4], have [%v, %v]", summary.Min,
			summary.Max)
	}

	// Sample standard deviation of {1, 2, 3, 4}
	want := math.Sqrt(5.0 / 3.0)
	if math.Abs(summary.Std-want) > 1e-12 {
		t.Errorf("std: \n\twant(%v)\n\thave(%v)", want, summary.Std)
	}
}

// TestFromSliceSingleSample ensures a single sample reports zero
// deviation rather than NaN
func TestFromSliceSingleSample(t *testing.T) {
	summary, err := stats.FromSlice([]float64{7})
	if err != nil {
		t.Fatalf("fromslice: %v", err)
	}

	if summary.Mean != 7 || summary.Min != 7 || summary.Max != 7 {
		t.Errorf("single sample summary wrong: %+v", summary)
	}
	if summary.Std != 0 {
		t.Errorf("std: \n\twant(0)\n\thave(%v)", summary.Std)
	}
}

// TestFromSliceEmpty ensures zero samples are rejected
func TestFromSliceEmpty(t *testing.T) {
	_, err := stats.FromSlice(nil)
	if !errors.Is(err, stats.ErrNoSamples) {
		t.Errorf("fromslice: \n\twant(%v)\n\thave(%v)",
			stats.ErrNoSamples, err)
	}
}

// TestAddTo ensures summaries record under prefixed keys
func TestAddTo(t *testing.T) {
	summary, err := stats.FromSlice([]float64{2, 4})
	if err != nil {
		t.Fatalf("fromslice: %v", err)
	}

	scalars := make(map[string]float64)
	summary.AddTo(scalars, "eval/return")

	if scalars["eval/return/mean"] != 3 {
		t.Errorf("mean: \n\twant(3)\n\thave(%v)",
			scalars["eval/return/mean"])
	}
	if scalars["eval/return/min"] != 2 || scalars["eval/return/max"] != 4 {
		t.Errorf("bounds: want [2, 4], have [%v, %v]",
			scalars["eval/return/min"], scalars["eval/return/max"])
	}
	if _, ok := scalars["eval/return/std"]; !ok {
		t.Error("std missing from scalars")
	}
}
