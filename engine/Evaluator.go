package engine

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/progressbar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goppo/runner"
	"github.com/samuelfneumann/goppo/tracker"
	"github.com/samuelfneumann/goppo/trajectory"
	"github.com/samuelfneumann/goppo/utils/stats"
)

// Evaluator scores the current policy by running full episodes without
// exploration and tracks an exponentially smoothed evaluation return
// for best-model selection.
type Evaluator struct {
	runner  runner.Runner
	evalNum int
	horizon int
	sample  bool
	tau     float64
	saver   *tracker.TrajectorySaver // May be nil

	smoothed    float64
	best        float64
	initialized bool
}

// NewEvaluator creates and returns a new Evaluator running evalNum
// rollouts of at most horizon steps per evaluation pass. If sample is
// true the policy samples actions during evaluation rollouts,
// otherwise it acts greedily. The smoothed return mixes tau parts of
// its previous value with (1 - tau) parts of the newest raw mean
// return. If saver is non-nil, every evaluation trajectory is saved
// through it.
func NewEvaluator(run runner.Runner, evalNum, horizon int, sample bool,
	tau float64, saver *tracker.TrajectorySaver) (*Evaluator, error) {
	if evalNum < 1 {
		return nil, fmt.Errorf("newevaluator: eval num must be "+
			"positive, got %v", evalNum)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("newevaluator: horizon must be "+
			"positive, got %v", horizon)
	}
	if tau < 0 || tau >= 1 {
		return nil, fmt.Errorf("newevaluator: smoothing weight must be "+
			"in [0, 1), got %v", tau)
	}

	return &Evaluator{
		runner:  run,
		evalNum: evalNum,
		horizon: horizon,
		sample:  sample,
		tau:     tau,
		saver:   saver,
	}, nil
}

// Smoothed returns the current smoothed evaluation return. It is only
// meaningful after the first Evaluate call.
func (e *Evaluator) Smoothed() float64 {
	return e.smoothed
}

// Restore seeds the smoothed and best returns from a previous run
func (e *Evaluator) Restore(smoothed, best float64) {
	e.smoothed = smoothed
	e.best = best
	e.initialized = true
}

// Evaluate runs one evaluation pass at training step step. It returns
// the evaluation scalars and whether the smoothed return strictly
// improved on the best smoothed return seen so far.
func (e *Evaluator) Evaluate(step int) (map[string]float64, bool,
	error) {
	var (
		returns []float64
		lengths []float64
		infos   []trajectory.StepInfo
	)

	pbar := progressbar.New(40, e.evalNum, time.Second, true)
	pbar.Display()
	defer pbar.Close()

	for i := 0; i < e.evalNum; i++ {
		traj, err := e.runner.Run(runner.Options{
			TimeSteps:    e.horizon,
			Sample:       e.sample,
			Evaluation:   true,
			ReturnOnDone: true,
		})
		if err != nil {
			return nil, false, fmt.Errorf("evaluate: rollout %v "+
				"failed: %v", i, err)
		}

		for slot := 0; slot < traj.NumEnvs(); slot++ {
			steps := traj.StepsTilDone[slot]

			rewards := make([]float64, traj.TimeSteps())
			mat.Col(rewards, slot, traj.RawRewards)
			returns = append(returns, floats.Sum(rewards[:steps]))
			lengths = append(lengths, float64(steps))
			if steps > 0 {
				infos = append(infos, traj.Infos[steps-1][slot])
			}
		}

		if e.saver != nil {
			if err := e.saver.Save(step, traj); err != nil {
				return nil, false, fmt.Errorf("evaluate: %v", err)
			}
		}
		pbar.Increment()
	}

	scalars := make(map[string]float64)

	retStats, err := stats.FromSlice(returns)
	if err != nil {
		return nil, false, fmt.Errorf("evaluate: %v", err)
	}
	retStats.AddTo(scalars, "eval/return")

	lenStats, err := stats.FromSlice(lengths)
	if err != nil {
		return nil, false, fmt.Errorf("evaluate: %v", err)
	}
	lenStats.AddTo(scalars, "eval/length")

	addInfoStats(scalars, "eval/", infos)

	best := e.update(retStats.Mean)
	scalars["eval/return/smooth"] = e.smoothed
	scalars["eval/return/best"] = e.best

	return scalars, best, nil
}

// update folds rawMean into the smoothed return and reports whether
// the result strictly beats the best smoothed return so far
func (e *Evaluator) update(rawMean float64) bool {
	if !e.initialized {
		e.smoothed = rawMean
		e.best = rawMean
		e.initialized = true
		return true
	}

	e.smoothed = e.tau*e.smoothed + (1-e.tau)*rawMean
	if e.smoothed > e.best {
		e.best = e.smoothed
		return true
	}
	return false
}

// addInfoStats aggregates each key appearing in any of the step infos
// into mean/std/min/max scalars under prefix
func addInfoStats(scalars map[string]float64, prefix string,
	infos []trajectory.StepInfo) {
	keys := make(map[string]struct{})
	for _, info := range infos {
		for key := range info {
			keys[key] = struct{}{}
		}
	}

	for key := range keys {
		values := make([]float64, len(infos))
		for i, info := range infos {
			values[i] = info.Get(key)
		}

		summary, err := stats.FromSlice(values)
		if err != nil {
			continue
		}
		summary.AddTo(scalars, prefix+key)
	}
}
