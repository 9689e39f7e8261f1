// Package trajectory implements the unit of experience produced by one
// vectorized rollout
package trajectory

import (
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ActionInfo holds the auxiliary outputs of the policy at a single
// timestep: the critic's value estimate and the log probability of the
// selected action for each environment slot, plus an open extension
// map for algorithm-specific diagnostics.
type ActionInfo struct {
	Vals     []float64
	LogProbs []float64
	Extra    map[string][]float64
}

// StepInfo holds arbitrary numeric diagnostics emitted by a single
// environment slot at a single timestep.
type StepInfo map[string]float64

// Get returns the value stored under key, or 0 if the key is absent.
// Every consumer of step infos reads through Get so that missing keys
// behave identically on the evaluation and logging paths.
func (s StepInfo) Get(key string) float64 {
	if s == nil {
		return 0
	}
	return s[key]
}

// ExtraData holds trailing data attached to a trajectory. LastVal is
// the critic's value estimate for the state following the final
// collected step of each environment slot; it is nil when no bootstrap
// estimate exists, e.g. for evaluation rollouts.
type ExtraData struct {
	LastVal []float64
}

// Trajectory packages one batch of time-major experience collected
// from numEnvs parallel instances of an environment. The outer
// dimension of every field is the timestep; the next dimension is the
// environment slot.
//
// Rewards holds the rewards used for learning, which the environment
// may have shaped or clipped, while RawRewards always holds the
// unmodified rewards used for evaluation scoring. Dones holds 1 at the
// timesteps on which an episode ended for a slot and 0 elsewhere.
//
// A Trajectory is produced fresh by each rollout call, consumed
// immediately by advantage estimation and batching, and discarded
// after the optimization or evaluation pass that uses it.
type Trajectory struct {
	Observations *tensor.Dense // Shape (T, numEnvs, obs features...)
	Actions      *tensor.Dense // Shape (T, numEnvs, action dims...)
	Rewards      *mat.Dense    // T × numEnvs
	RawRewards   *mat.Dense    // T × numEnvs
	Dones        *mat.Dense    // T × numEnvs, entries in {0, 1}
	ActionInfos  []ActionInfo  // Length T
	Infos        [][]StepInfo  // Length T, each of length numEnvs

	// StepsTilDone counts the valid steps before and including the
	// first episode end of each slot. Slots that never finished an
	// episode have all T steps valid.
	StepsTilDone []int

	// EpisodeReturns holds the cumulative reward of every episode
	// completed during the rollout, per environment slot. A slot that
	// completed no episode has an empty entry.
	EpisodeReturns [][]float64

	ExtraData ExtraData
}

// TimeSteps returns the number of timesteps T in the trajectory
func (t *Trajectory) TimeSteps() int {
	r, _ := t.Rewards.Dims()
	return r
}

// NumEnvs returns the number of parallel environment slots
func (t *Trajectory) NumEnvs() int {
	_, c := t.Rewards.Dims()
	return c
}

// TotalSteps returns the total number of environment steps collected,
// which is TimeSteps * NumEnvs
func (t *Trajectory) TotalSteps() int {
	return t.TimeSteps() * t.NumEnvs()
}

// Vals gathers the critic's per-step value estimates out of the
// trajectory's ActionInfos into a T × numEnvs matrix
func (t *Trajectory) Vals() *mat.Dense {
	timeSteps, numEnvs := t.TimeSteps(), t.NumEnvs()
	vals := mat.NewDense(timeSteps, numEnvs, nil)
	for i, info := range t.ActionInfos {
		vals.SetRow(i, info.Vals)
	}
	return vals
}

// LogProbs gathers the per-step action log probabilities out of the
// trajectory's ActionInfos into a T × numEnvs matrix
func (t *Trajectory) LogProbs() *mat.Dense {
	timeSteps, numEnvs := t.TimeSteps(), t.NumEnvs()
	logProbs := mat.NewDense(timeSteps, numEnvs, nil)
	for i, info := range t.ActionInfos {
		logProbs.SetRow(i, info.LogProbs)
	}
	return logProbs
}

// WriteTo gob-encodes the trajectory to filename, overwriting any
// existing file
func (t *Trajectory) WriteTo(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("writeto: could not create %v: %v", filename,
			err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(t); err != nil {
		return fmt.Errorf("writeto: could not encode trajectory: %v",
			err)
	}
	return nil
}

// Load reads and returns a trajectory previously written with WriteTo
func Load(filename string) (*Trajectory, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("load: could not open %v: %v", filename,
			err)
	}
	defer file.Close()

	traj := &Trajectory{}
	if err := gob.NewDecoder(file).Decode(traj); err != nil {
		return nil, fmt.Errorf("load: could not decode trajectory: %v",
			err)
	}
	return traj, nil
}

// Validate checks the structural invariants of the trajectory: all
// time-major fields share the timestep dimension, dones and rewards
// share their full shape, every ActionInfo covers every slot, and no
// StepsTilDone entry exceeds the horizon.
func (t *Trajectory) Validate() error {
	timeSteps, numEnvs := t.TimeSteps(), t.NumEnvs()

	if r, c := t.RawRewards.Dims(); r != timeSteps || c != numEnvs {
		return fmt.Errorf("validate: illegal raw rewards shape "+
			"\n\twant(%v × %v)\n\thave(%v × %v)", timeSteps, numEnvs, r, c)
	}
	if r, c := t.Dones.Dims(); r != timeSteps || c != numEnvs {
		return fmt.Errorf("validate: illegal dones shape "+
			"\n\twant(%v × %v)\n\thave(%v × %v)", timeSteps, numEnvs, r, c)
	}
	if t.Observations.Shape()[0] != timeSteps {
		return fmt.Errorf("validate: observations cover %v timesteps "+
			"but trajectory has %v", t.Observations.Shape()[0], timeSteps)
	}
	if t.Actions.Shape()[0] != timeSteps {
		return fmt.Errorf("validate: actions cover %v timesteps but "+
			"trajectory has %v", t.Actions.Shape()[0], timeSteps)
	}

	if len(t.ActionInfos) != timeSteps {
		return fmt.Errorf("validate: illegal number of action infos "+
			"\n\twant(%v)\n\thave(%v)", timeSteps, len(t.ActionInfos))
	}
	for i, info := range t.ActionInfos {
		if len(info.Vals) != numEnvs || len(info.LogProbs) != numEnvs {
			return fmt.Errorf("validate: action info %v does not cover "+
				"all %v environment slots", i, numEnvs)
		}
	}

	if len(t.StepsTilDone) != numEnvs {
		return fmt.Errorf("validate: illegal steps-til-done length "+
			"\n\twant(%v)\n\thave(%v)", numEnvs, len(t.StepsTilDone))
	}
	for i, steps := range t.StepsTilDone {
		if steps > timeSteps {
			return fmt.Errorf("validate: steps til done of slot %v "+
				"exceeds horizon: %v > %v", i, steps, timeSteps)
		}
	}

	if last := t.ExtraData.LastVal; last != nil && len(last) != numEnvs &&
		len(last) != 1 {
		return fmt.Errorf("validate: illegal bootstrap value length "+
			"\n\twant(%v or 1)\n\thave(%v)", numEnvs, len(last))
	}

	return nil
}
