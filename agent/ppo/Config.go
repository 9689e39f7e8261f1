package ppo

import (
	"fmt"

	"github.com/samuelfneumann/goppo/network"
)

// Config describes a PPO agent. The zero value is not usable; start
// from DefaultConfig and adjust.
type Config struct {
	// Architecture of the policy and value networks. For index i,
	// HiddenSizes[i] is the size of hidden layer i, Biases[i] is
	// whether it has a bias unit, and Activations[i] is its
	// activation. Both networks share the architecture; a final
	// linear layer is always added by the network package.
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation

	// PolicyLR and ValueLR are the initial Adam step sizes of the
	// actor and critic
	PolicyLR float64
	ValueLR  float64

	// ClipRange is the initial PPO surrogate clip range ε
	ClipRange float64

	// EntropyCoef weighs the entropy bonus in the policy objective
	EntropyCoef float64

	// ValueGradSteps is the number of critic updates per minibatch
	ValueGradSteps int

	// LRDecaySteps and ClipDecaySteps control the linear decay
	// schedules: each call to DecayLR (DecayClipRange) moves the
	// learning rates (clip range) 1/LRDecaySteps (1/ClipDecaySteps)
	// of the way from their initial values to zero, never going
	// below zero. A value of 0 disables the schedule.
	LRDecaySteps   int
	ClipDecaySteps int

	// ModelDir is the directory checkpoints are written to.
	// MaxSavedModels bounds how many step checkpoints are retained;
	// the best-model checkpoint is exempt from pruning.
	ModelDir       string
	MaxSavedModels int
}

// DefaultConfig returns a Config with the default PPO hyperparameters
func DefaultConfig(modelDir string) Config {
	return Config{
		HiddenSizes: []int{64, 64},
		Biases:      []bool{true, true},
		Activations: []*network.Activation{
			network.TanH(),
			network.TanH(),
		},
		PolicyLR:       3e-4,
		ValueLR:        1e-3,
		ClipRange:      0.2,
		EntropyCoef:    0.01,
		ValueGradSteps: 1,
		ModelDir:       modelDir,
		MaxSavedModels: 2,
	}
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c Config) Validate() error {
	if len(c.HiddenSizes) != len(c.Biases) ||
		len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("validate: architecture lists must share " +
			"length")
	}
	if c.PolicyLR <= 0 || c.ValueLR <= 0 {
		return fmt.Errorf("validate: learning rates must be positive")
	}
	if c.ClipRange <= 0 {
		return fmt.Errorf("validate: clip range must be positive, got %v",
			c.ClipRange)
	}
	if c.ValueGradSteps < 1 {
		return fmt.Errorf("validate: need at least one value gradient "+
			"step, got %v", c.ValueGradSteps)
	}
	if c.MaxSavedModels < 1 {
		return fmt.Errorf("validate: must retain at least one saved "+
			"model, got %v", c.MaxSavedModels)
	}
	return nil
}
