package engine_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/engine"
	"github.com/samuelfneumann/goppo/runner"
	"github.com/samuelfneumann/goppo/trajectory"
)

// scriptedRunner returns single-step, single-slot trajectories whose
// episode returns follow a fixed script, one entry per Run call. It
// records the sampling mode of every call.
type scriptedRunner struct {
	returns []float64
	call    int
	sampled []bool
}

func (s *scriptedRunner) Run(opts runner.Options) (
	*trajectory.Trajectory, error) {
	ret := s.returns[s.call]
	s.call++
	s.sampled = append(s.sampled, opts.Sample)

	return &trajectory.Trajectory{
		Observations: tensor.NewDense(tensor.Float64, []int{1, 1, 1},
			tensor.WithBacking([]float64{0})),
		Actions: tensor.NewDense(tensor.Float64, []int{1, 1, 1},
			tensor.WithBacking([]float64{0})),
		Rewards:    mat.NewDense(1, 1, []float64{ret}),
		RawRewards: mat.NewDense(1, 1, []float64{ret}),
		Dones:      mat.NewDense(1, 1, []float64{1}),
		ActionInfos: []trajectory.ActionInfo{{
			Vals:     []float64{0},
			LogProbs: []float64{0},
		}},
		Infos: [][]trajectory.StepInfo{{
			{"episode_step": 1},
		}},
		StepsTilDone:   []int{1},
		EpisodeReturns: [][]float64{{ret}},
	}, nil
}

// TestEvaluatorSmoothing checks the exponential smoothing recurrence
// and the strict best-model rule across successive evaluation passes
func TestEvaluatorSmoothing(t *testing.T) {
	run := &scriptedRunner{returns: []float64{10, 20, 0}}
	evaluator, err := engine.NewEvaluator(run, 1, 5, false, 0.5, nil)
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}

	// The first pass initializes the smoothed return to the raw mean
	// and always flags a best model
	scalars, best, err := evaluator.Evaluate(0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !best {
		t.Error("first evaluation should flag a best model")
	}
	if scalars["eval/return/mean"] != 10 {
		t.Errorf("raw mean: \n\twant(10)\n\thave(%v)",
			scalars["eval/return/mean"])
	}
	if scalars["eval/return/smooth"] != 10 {
		t.Errorf("smoothed: \n\twant(10)\n\thave(%v)",
			scalars["eval/return/smooth"])
	}

	// Subsequent passes mix tau parts old with (1 - tau) parts new:
	// 0.5 * 10 + 0.5 * 20 = 15
	scalars, best, err = evaluator.Evaluate(1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !best {
		t.Error("improved smoothed return should flag a best model")
	}
	if math.Abs(scalars["eval/return/smooth"]-15) > 1e-12 {
		t.Errorf("smoothed: \n\twant(15)\n\thave(%v)",
			scalars["eval/return/smooth"])
	}

	// A drop does not flag a best model and leaves the best untouched
	scalars, best, err = evaluator.Evaluate(2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if best {
		t.Error("worsened smoothed return should not flag a best model")
	}
	if math.Abs(scalars["eval/return/smooth"]-7.5) > 1e-12 {
		t.Errorf("smoothed: \n\twant(7.5)\n\thave(%v)",
			scalars["eval/return/smooth"])
	}
	if scalars["eval/return/best"] != 15 {
		t.Errorf("best: \n\twant(15)\n\thave(%v)",
			scalars["eval/return/best"])
	}
}

// TestEvaluatorSampleOption ensures the sampling mode is threaded
// through to every evaluation rollout
func TestEvaluatorSampleOption(t *testing.T) {
	for _, sample := range []bool{true, false} {
		run := &scriptedRunner{returns: []float64{1, 2}}
		evaluator, err := engine.NewEvaluator(run, 2, 5, sample, 0.5,
			nil)
		if err != nil {
			t.Fatalf("newevaluator: %v", err)
		}

		if _, _, err := evaluator.Evaluate(0); err != nil {
			t.Fatalf("evaluate: %v", err)
		}

		for i, got := range run.sampled {
			if got != sample {
				t.Errorf("rollout %v sampling mode: \n\twant(%v)"+
					"\n\thave(%v)", i, sample, got)
			}
		}
	}
}

// TestEvaluatorBestIsStrict ensures that matching the best smoothed
// return exactly does not flag a best model
func TestEvaluatorBestIsStrict(t *testing.T) {
	run := &scriptedRunner{returns: []float64{10, 10}}
	evaluator, err := engine.NewEvaluator(run, 1, 5, false, 0, nil)
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}

	if _, best, err := evaluator.Evaluate(0); err != nil {
		t.Fatalf("evaluate: %v", err)
	} else if !best {
		t.Error("first evaluation should flag a best model")
	}

	// With no smoothing weight the smoothed return equals the raw
	// mean, which ties the best exactly
	if _, best, err := evaluator.Evaluate(1); err != nil {
		t.Fatalf("evaluate: %v", err)
	} else if best {
		t.Error("tied smoothed return should not flag a best model")
	}
}

// TestEvaluatorRestore ensures a restored best return suppresses best
// flags until it is strictly beaten
func TestEvaluatorRestore(t *testing.T) {
	run := &scriptedRunner{returns: []float64{10, 1000}}
	evaluator, err := engine.NewEvaluator(run, 1, 5, false, 0.5, nil)
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}
	evaluator.Restore(5, 50)

	// 0.5 * 5 + 0.5 * 10 = 7.5, below the restored best of 50
	if _, best, err := evaluator.Evaluate(0); err != nil {
		t.Fatalf("evaluate: %v", err)
	} else if best {
		t.Error("restored best should suppress the best flag")
	}

	// 0.5 * 7.5 + 0.5 * 1000 beats 50
	if _, best, err := evaluator.Evaluate(1); err != nil {
		t.Fatalf("evaluate: %v", err)
	} else if !best {
		t.Error("smoothed return beating the restored best should " +
			"flag a best model")
	}
}

// TestEvaluatorScalars ensures evaluation lengths and last-step infos
// are aggregated into scalars
func TestEvaluatorScalars(t *testing.T) {
	run := &scriptedRunner{returns: []float64{3, 5}}
	evaluator, err := engine.NewEvaluator(run, 2, 5, false, 0.7, nil)
	if err != nil {
		t.Fatalf("newevaluator: %v", err)
	}

	scalars, _, err := evaluator.Evaluate(0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if scalars["eval/return/mean"] != 4 {
		t.Errorf("return mean: \n\twant(4)\n\thave(%v)",
			scalars["eval/return/mean"])
	}
	if scalars["eval/return/min"] != 3 || scalars["eval/return/max"] != 5 {
		t.Errorf("return bounds: want [3, 5], have [%v, %v]",
			scalars["eval/return/min"], scalars["eval/return/max"])
	}
	if scalars["eval/length/mean"] != 1 {
		t.Errorf("length mean: \n\twant(1)\n\thave(%v)",
			scalars["eval/length/mean"])
	}
	if _, ok := scalars["eval/episode_step/mean"]; !ok {
		t.Error("last-step info stats missing from scalars")
	}
}
