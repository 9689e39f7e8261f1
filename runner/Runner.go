// Package runner implements vectorized trajectory collection: many
// instances of one environment advanced in lockstep under a policy
package runner

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/agent"
	env "github.com/samuelfneumann/goppo/environment"
	"github.com/samuelfneumann/goppo/trajectory"
)

// Options controls a single rollout
type Options struct {
	// TimeSteps is the rollout horizon T
	TimeSteps int

	// Sample determines whether actions are sampled from the policy
	// distribution or taken greedily
	Sample bool

	// Evaluation marks the rollout as an evaluation rollout: no
	// bootstrap value is attached to the trajectory
	Evaluation bool

	// ReturnOnDone ends the rollout early once every environment
	// slot has finished at least one episode. Data collected for a
	// slot after its first episode end is excluded from its
	// StepsTilDone count.
	ReturnOnDone bool
}

// Runner produces one trajectory per call
type Runner interface {
	Run(opts Options) (*trajectory.Trajectory, error)
}

// Vectorized is a Runner that advances numEnvs forked copies of one
// environment in lockstep, batching all policy queries. Environments
// reset automatically when an episode ends, so one rollout may span
// several episodes per slot.
type Vectorized struct {
	envs     []env.Environment
	policy   agent.Policy
	features int
	actDims  int
}

// New creates and returns a new Vectorized runner over numEnvs forked
// copies of e, each seeded from seed
func New(e env.Environment, policy agent.Policy, numEnvs int,
	seed uint64) (*Vectorized, error) {
	if numEnvs < 1 {
		return nil, fmt.Errorf("new: need at least one environment, "+
			"got %v", numEnvs)
	}

	envs := make([]env.Environment, numEnvs)
	for i := range envs {
		envs[i] = e.Fork(seed + uint64(i))
	}

	return &Vectorized{
		envs:     envs,
		policy:   policy,
		features: e.ObservationSpec().Shape.Len(),
		actDims:  e.ActionSpec().Shape.Len(),
	}, nil
}

// NumEnvs returns the number of parallel environment slots
func (v *Vectorized) NumEnvs() int {
	return len(v.envs)
}

// Run collects and returns one trajectory of at most opts.TimeSteps
// timesteps across all environment slots
func (v *Vectorized) Run(opts Options) (*trajectory.Trajectory, error) {
	if opts.TimeSteps < 1 {
		return nil, fmt.Errorf("run: rollout horizon must be positive, "+
			"got %v", opts.TimeSteps)
	}

	numEnvs := len(v.envs)
	obs := make([]mat.Vector, numEnvs)
	for i, e := range v.envs {
		step := e.Reset()
		obs[i] = step.Observation
	}

	var (
		obsData []float64
		actData []float64
		rewards []float64 // Time-major, row per step
		raw     []float64
		dones   []float64

		actionInfos []trajectory.ActionInfo
		infos       [][]trajectory.StepInfo
	)

	stepsTilDone := make([]int, numEnvs)
	everDone := make([]bool, numEnvs)
	episodeReturns := make([][]float64, numEnvs)
	for i := range episodeReturns {
		episodeReturns[i] = []float64{}
	}
	returnAcc := make([]float64, numEnvs)

	timeSteps := 0
	for t := 0; t < opts.TimeSteps; t++ {
		pred, err := v.policy.Predict(v.batchObs(obs), opts.Sample)
		if err != nil {
			return nil, fmt.Errorf("run: policy failed at step %v: %v",
				t, err)
		}

		rewardRow := make([]float64, numEnvs)
		rawRow := make([]float64, numEnvs)
		doneRow := make([]float64, numEnvs)
		infoRow := make([]trajectory.StepInfo, numEnvs)

		for i, e := range v.envs {
			for _, x := range vecData(obs[i]) {
				obsData = append(obsData, x)
			}
			actData = append(actData, pred.Actions[i])

			action := mat.NewVecDense(1, []float64{pred.Actions[i]})
			step, done, err := e.Step(action)
			if err != nil {
				return nil, fmt.Errorf("run: environment %v failed at "+
					"step %v: %v", i, t, err)
			}

			rewardRow[i] = step.Reward
			rawRow[i] = step.RawReward
			returnAcc[i] += step.RawReward
			infoRow[i] = trajectory.StepInfo{
				"episode_step": float64(step.Number),
			}

			if done {
				doneRow[i] = 1
				episodeReturns[i] = append(episodeReturns[i],
					returnAcc[i])
				returnAcc[i] = 0
				if !everDone[i] {
					everDone[i] = true
					stepsTilDone[i] = t + 1
				}

				reset := e.Reset()
				obs[i] = reset.Observation
			} else {
				obs[i] = step.Observation
			}
		}

		rewards = append(rewards, rewardRow...)
		raw = append(raw, rawRow...)
		dones = append(dones, doneRow...)
		actionInfos = append(actionInfos, trajectory.ActionInfo{
			Vals:     pred.Vals,
			LogProbs: pred.LogProbs,
		})
		infos = append(infos, infoRow)
		timeSteps++

		if opts.ReturnOnDone && allTrue(everDone) {
			break
		}
	}

	// Slots that never finished an episode have every step valid
	for i, done := range everDone {
		if !done {
			stepsTilDone[i] = timeSteps
		}
	}

	traj := &trajectory.Trajectory{
		Observations: tensor.NewDense(
			tensor.Float64,
			[]int{timeSteps, numEnvs, v.features},
			tensor.WithBacking(obsData),
		),
		Actions: tensor.NewDense(
			tensor.Float64,
			[]int{timeSteps, numEnvs, v.actDims},
			tensor.WithBacking(actData),
		),
		Rewards:        mat.NewDense(timeSteps, numEnvs, rewards),
		RawRewards:     mat.NewDense(timeSteps, numEnvs, raw),
		Dones:          mat.NewDense(timeSteps, numEnvs, dones),
		ActionInfos:    actionInfos,
		Infos:          infos,
		StepsTilDone:   stepsTilDone,
		EpisodeReturns: episodeReturns,
	}

	// Evaluation rollouts carry no bootstrap signal
	if !opts.Evaluation {
		lastVal, err := v.policy.Value(v.batchObs(obs))
		if err != nil {
			return nil, fmt.Errorf("run: could not bootstrap final "+
				"state values: %v", err)
		}
		traj.ExtraData.LastVal = lastVal
	}

	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}
	return traj, nil
}

// batchObs packs the current observation of every slot into one
// (numEnvs, features) tensor
func (v *Vectorized) batchObs(obs []mat.Vector) *tensor.Dense {
	backing := make([]float64, 0, len(obs)*v.features)
	for _, o := range obs {
		backing = append(backing, vecData(o)...)
	}
	return tensor.NewDense(
		tensor.Float64,
		[]int{len(obs), v.features},
		tensor.WithBacking(backing),
	)
}

// vecData copies the elements of a vector into a slice
func vecData(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// allTrue returns whether every element of flags is true
func allTrue(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}
