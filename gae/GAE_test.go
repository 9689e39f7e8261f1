package gae_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goppo/gae"
)

const tolerance float64 = 1e-12

// TestEstimateNilLastValue ensures that a missing bootstrap value
// produces all-zero advantages regardless of the other inputs
func TestEstimateNilLastValue(t *testing.T) {
	rewards := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	values := mat.NewDense(3, 2, []float64{
		9, 9,
		9, 9,
		9, 9,
	})
	dones := mat.NewDense(3, 2, nil)

	advantages, err := gae.Estimate(0.99, 0.95, rewards, values, nil,
		dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	r, c := advantages.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("estimate: illegal advantages shape "+
			"\n\twant(3 × 2)\n\thave(%v × %v)", r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if advantages.At(i, j) != 0 {
				t.Errorf("advantage (%v, %v) should be 0, got %v", i, j,
					advantages.At(i, j))
			}
		}
	}
}

// TestEstimateZeroGamma ensures that with γ = 0 the advantage reduces
// to the one-step TD error r[t] - v[t]
func TestEstimateZeroGamma(t *testing.T) {
	rewards := mat.NewDense(3, 1, []float64{1, 2, 3})
	values := mat.NewDense(3, 1, []float64{0.5, 1.5, 2.5})
	dones := mat.NewDense(3, 1, nil)

	advantages, err := gae.Estimate(0, 0.95, rewards, values,
		[]float64{10}, dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	for i := 0; i < 3; i++ {
		expected := rewards.At(i, 0) - values.At(i, 0)
		if math.Abs(advantages.At(i, 0)-expected) > tolerance {
			t.Errorf("advantage %v: \n\twant(%v)\n\thave(%v)", i,
				expected, advantages.At(i, 0))
		}
	}
}

// TestEstimateMonteCarlo checks the closed form at γ = λ = 1 with zero
// values: each advantage is the sum of all later rewards plus the
// bootstrap value
func TestEstimateMonteCarlo(t *testing.T) {
	rewards := mat.NewDense(3, 1, []float64{3, 2, 1})
	values := mat.NewDense(3, 1, nil)
	dones := mat.NewDense(3, 1, nil)

	advantages, err := gae.Estimate(1, 1, rewards, values,
		[]float64{0.5}, dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	expected := []float64{6.5, 3.5, 1.5}
	for i, want := range expected {
		if math.Abs(advantages.At(i, 0)-want) > tolerance {
			t.Errorf("advantage %v: \n\twant(%v)\n\thave(%v)", i, want,
				advantages.At(i, 0))
		}
	}
}

// TestEstimateDoneMask ensures that an episode end stops both the
// value bootstrap and the advantage accumulation at that timestep
func TestEstimateDoneMask(t *testing.T) {
	rewards := mat.NewDense(3, 1, []float64{1, 1, 1})
	values := mat.NewDense(3, 1, nil)
	dones := mat.NewDense(3, 1, []float64{0, 1, 0})

	advantages, err := gae.Estimate(1, 1, rewards, values,
		[]float64{2}, dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	// The last step bootstraps: A[2] = 1 + 2. The episode end at t = 1
	// truncates: A[1] = 1. The first step accumulates only within its
	// episode: A[0] = 1 + A[1].
	expected := []float64{2, 1, 3}
	for i, want := range expected {
		if math.Abs(advantages.At(i, 0)-want) > tolerance {
			t.Errorf("advantage %v: \n\twant(%v)\n\thave(%v)", i, want,
				advantages.At(i, 0))
		}
	}
}

// TestEstimateBroadcast ensures that a single bootstrap value is
// broadcast across every environment slot
func TestEstimateBroadcast(t *testing.T) {
	rewards := mat.NewDense(2, 3, []float64{
		1, 1, 1,
		1, 1, 1,
	})
	values := mat.NewDense(2, 3, nil)
	dones := mat.NewDense(2, 3, nil)

	broadcast, err := gae.Estimate(0.9, 0.8, rewards, values,
		[]float64{4}, dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	explicit, err := gae.Estimate(0.9, 0.8, rewards, values,
		[]float64{4, 4, 4}, dones)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if !mat.EqualApprox(broadcast, explicit, tolerance) {
		t.Errorf("broadcast bootstrap disagrees with explicit "+
			"bootstrap \n\twant(%v)\n\thave(%v)",
			mat.Formatted(explicit), mat.Formatted(broadcast))
	}
}

// TestEstimateShapeMismatch ensures that a bootstrap value whose
// length is neither 1 nor the number of slots is rejected
func TestEstimateShapeMismatch(t *testing.T) {
	rewards := mat.NewDense(2, 2, nil)
	values := mat.NewDense(2, 2, nil)
	dones := mat.NewDense(2, 2, nil)

	_, err := gae.Estimate(0.99, 0.95, rewards, values,
		[]float64{1, 2, 3}, dones)
	if err == nil {
		t.Fatal("estimate: expected error for illegal bootstrap length")
	}
	if !gae.IsShapeMismatch(err) {
		t.Errorf("estimate: error should report a shape mismatch, "+
			"got %v", err)
	}
}
