// Package agent defines the capability sets that a learning agent
// exposes to the training engine and the rollout runner
package agent

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/minibatch"
)

// Agent determines the implementation details of an agent or
// algorithm.
//
// An Agent is composed of a Policy, which chooses actions and
// estimates state values during rollouts, an Optimizer, which updates
// the policy from minibatches of experience, and a Checkpointer,
// which persists and restores model weights.
type Agent interface {
	Policy
	Optimizer
	Checkpointer
}

// Prediction holds the outputs of a policy for one batch of
// observations: the selected action for each environment slot (action
// dimensions flattened, row-major), the critic's value estimate of
// each observation, and the log probability of each selected action.
type Prediction struct {
	Actions  []float64
	Vals     []float64
	LogProbs []float64
}

// Policy chooses actions during rollouts. Observations are batched
// with shape (batch, features...).
type Policy interface {
	// Predict selects one action per observation. When sample is
	// true actions are drawn from the policy distribution; otherwise
	// the mode of the distribution is taken.
	Predict(obs *tensor.Dense, sample bool) (Prediction, error)

	// Value returns the critic's value estimate of each observation
	// without selecting actions. The engine uses this to bootstrap
	// advantage estimation past the rollout horizon.
	Value(obs *tensor.Dense) ([]float64, error)

	// EvalMode places the policy in evaluation mode, disabling any
	// learning side effects of acting, and TrainMode reverses it
	EvalMode()
	TrainMode()
}

// Optimizer implements a learning algorithm that defines how weights
// are updated from minibatches of collected experience.
type Optimizer interface {
	// Optimize performs a single update from one minibatch and
	// returns the scalar metrics of the update
	Optimize(batch minibatch.Batch) (map[string]float64, error)

	// LearningRates returns the current learning rate of each
	// optimized component, keyed by component name
	LearningRates() map[string]float64

	// DecayLR applies one step of the learning rate decay schedule
	DecayLR()

	// ClipRange returns the current PPO surrogate clip range, and
	// DecayClipRange applies one step of its decay schedule
	ClipRange() float64
	DecayClipRange()
}

// Checkpointer persists and restores model weights
type Checkpointer interface {
	// SaveModel persists the current weights for the given global
	// step. When isBest is true the saved weights additionally
	// replace the best-model checkpoint, which is exempt from any
	// retention pruning.
	SaveModel(isBest bool, step int) error

	// LoadModel restores weights. A step of 0 restores the most
	// recent checkpoint; a non-zero step restores that step's
	// checkpoint. A non-empty pretrainPath restores weights from an
	// explicit file instead, without resuming the step counter. The
	// returned value is the global step to resume counting from.
	LoadModel(step int, pretrainPath string) (int, error)
}
