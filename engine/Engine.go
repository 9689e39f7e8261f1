package engine

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/goppo/agent"
	"github.com/samuelfneumann/goppo/gae"
	"github.com/samuelfneumann/goppo/minibatch"
	"github.com/samuelfneumann/goppo/runner"
	"github.com/samuelfneumann/goppo/tracker"
	"github.com/samuelfneumann/goppo/trajectory"
	"github.com/samuelfneumann/goppo/utils/ring"
	"github.com/samuelfneumann/goppo/utils/stats"
)

// trainReturnWindow is the number of recent training episode returns
// kept for logging
const trainReturnWindow int = 100

// Engine drives the training loop: collect a rollout, estimate
// advantages, optimize over minibatches, and periodically evaluate,
// checkpoint, and log.
type Engine struct {
	config    Config
	agent     agent.Agent
	runner    runner.Runner
	evaluator *Evaluator
	sink      tracker.Sink

	curStep   int
	iteration int

	// Sliding window over the returns of episodes completed during
	// training rollouts
	trainReturns *ring.Buffer
}

// New creates and returns a new Engine and its run directory tree
func New(config Config, agt agent.Agent, run runner.Runner,
	evaluator *Evaluator, sink tracker.Sink) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := config.CreateDirs(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Engine{
		config:       config,
		agent:        agt,
		runner:       run,
		evaluator:    evaluator,
		sink:         sink,
		trainReturns: ring.New(trainReturnWindow),
	}, nil
}

// CurrentStep returns the number of environment steps consumed so far
func (e *Engine) CurrentStep() int {
	return e.curStep
}

// Train runs the training loop until the step counter strictly
// exceeds the configured number of environment steps. An iteration
// that lands exactly on the limit is followed by one more iteration.
func (e *Engine) Train() error {
	if e.config.Resume || e.config.PretrainPath != "" {
		step, err := e.agent.LoadModel(0, e.config.PretrainPath)
		if err != nil {
			return fmt.Errorf("train: could not restore agent: %v", err)
		}
		e.curStep = step
	}

	for {
		traj, rolloutTime, err := e.rolloutOnce()
		if err != nil {
			return fmt.Errorf("train: %v", err)
		}

		scalars, err := e.trainOnce(traj)
		if err != nil {
			return fmt.Errorf("train: %v", err)
		}

		var evalScalars map[string]float64
		if e.iteration%e.config.EvalInterval == 0 {
			evalScalars, err = e.evalOnce()
			if err != nil {
				return fmt.Errorf("train: %v", err)
			}
		}

		if e.iteration%e.config.LogInterval == 0 {
			scalars["train/rollout_time"] = rolloutTime.Seconds()
			e.addRolloutStats(scalars, traj)
			for name, value := range evalScalars {
				scalars[name] = value
			}
			for name, lr := range e.agent.LearningRates() {
				scalars["train/"+name] = lr
			}

			if err := e.sink.Log(e.curStep, scalars); err != nil {
				return fmt.Errorf("train: could not log scalars: %v", err)
			}
		}

		if e.curStep > e.config.MaxSteps {
			break
		}

		if e.config.LinearDecayLR {
			e.agent.DecayLR()
		}
		if e.config.LinearDecayClip {
			e.agent.DecayClipRange()
		}
		e.iteration++
	}

	return nil
}

// evalOnce runs one evaluation pass and checkpoints the agent,
// flagging the checkpoint as best when the smoothed evaluation return
// strictly improved. The evaluation scalars are returned so the
// training loop can fold them into the iteration's log record.
func (e *Engine) evalOnce() (map[string]float64, error) {
	e.agent.EvalMode()
	defer e.agent.TrainMode()

	scalars, best, err := e.evaluator.Evaluate(e.curStep)
	if err != nil {
		return nil, err
	}

	if err := e.agent.SaveModel(best, e.curStep); err != nil {
		return nil, fmt.Errorf("could not checkpoint agent: %v", err)
	}
	return scalars, nil
}

// rolloutOnce collects one training rollout under the current policy
func (e *Engine) rolloutOnce() (*trajectory.Trajectory, time.Duration,
	error) {
	e.agent.EvalMode()
	defer e.agent.TrainMode()

	start := time.Now()
	traj, err := e.runner.Run(runner.Options{
		TimeSteps: e.config.RolloutLength,
		Sample:    e.config.SampleActions,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("rollout failed: %v", err)
	}
	return traj, time.Since(start), nil
}

// trainOnce consumes one rollout: advances the step counter, estimates
// advantages, and optimizes the agent over every minibatch of every
// optimization epoch. It returns the mean of each optimizer metric
// across all minibatches.
func (e *Engine) trainOnce(traj *trajectory.Trajectory) (
	map[string]float64, error) {
	e.curStep += traj.TotalSteps()

	for _, returns := range traj.EpisodeReturns {
		for _, ret := range returns {
			e.trainReturns.Push(ret)
		}
	}

	advantages, err := gae.Estimate(e.config.Gamma, e.config.Lambda,
		traj.Rewards, traj.Vals(), traj.ExtraData.LastVal, traj.Dones)
	if err != nil {
		return nil, fmt.Errorf("could not estimate advantages: %v", err)
	}

	batcher, err := minibatch.New(traj, advantages, minibatch.Config{
		BatchSize:           e.config.BatchSize,
		Shuffle:             e.config.Shuffle,
		NormalizeAdvantages: e.config.NormalizeAdvantages,
	}, e.config.Seed+uint64(e.iteration))
	if err != nil {
		return nil, fmt.Errorf("could not batch rollout: %v", err)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)

	start := time.Now()
	for epoch := 0; epoch < e.config.OptEpochs; epoch++ {
		for _, batch := range batcher.Epoch() {
			metrics, err := e.agent.Optimize(batch)
			if err != nil {
				return nil, fmt.Errorf("optimization failed at step "+
					"%v: %v", e.curStep, err)
			}

			for name, value := range metrics {
				sums[name] += value
				counts[name]++
			}
		}
	}

	scalars := make(map[string]float64, len(sums))
	for name, sum := range sums {
		scalars["train/"+name] = sum / float64(counts[name])
	}
	scalars["train/optim_time"] = time.Since(start).Seconds()

	return scalars, nil
}

// addRolloutStats extends scalars with diagnostics of the rollout
// itself: action and value distributions, environment infos, and the
// recent training episode returns
func (e *Engine) addRolloutStats(scalars map[string]float64,
	traj *trajectory.Trajectory) {
	if actions, ok := traj.Actions.Data().([]float64); ok {
		if summary, err := stats.FromSlice(actions); err == nil {
			summary.AddTo(scalars, "train/rollout_action")
		}
	}

	vals := traj.Vals()
	if summary, err := stats.FromSlice(vals.RawMatrix().Data); err == nil {
		summary.AddTo(scalars, "train/rollout_value")
	}

	var infos []trajectory.StepInfo
	for _, row := range traj.Infos {
		infos = append(infos, row...)
	}
	addInfoStats(scalars, "train/", infos)

	if summary, err := stats.FromSlice(e.trainReturns.Slice()); err == nil {
		summary.AddTo(scalars, "train/episode_return")
	}
}
