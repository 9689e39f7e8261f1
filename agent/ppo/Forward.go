package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goppo/network"
)

// forward holds the rollout-time graphs of the agent for one batch
// size: a policy network predicting action logits and a value network
// predicting state values, each on its own graph with its own virtual
// machine.
type forward struct {
	version int

	policy   network.NeuralNet
	policyVM G.VM

	value   network.NeuralNet
	valueVM G.VM
}

// newForward builds the forward-pass graphs for the given batch size,
// copying the agent's current weights
func newForward(p *PPO, batch int) (*forward, error) {
	policy, err := p.policy.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newforward: could not clone policy: %v",
			err)
	}
	value, err := p.value.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newforward: could not clone value "+
			"network: %v", err)
	}

	return &forward{
		version:  p.version,
		policy:   policy,
		policyVM: G.NewTapeMachine(policy.Graph()),
		value:    value,
		valueVM:  G.NewTapeMachine(value.Graph()),
	}, nil
}

// runPolicy runs the policy forward pass on a flattened batch of
// observations and returns the action logits, row-major
func (f *forward) runPolicy(obs []float64) ([]float64, error) {
	if err := f.policy.SetInput(obs); err != nil {
		return nil, err
	}
	if err := f.policyVM.RunAll(); err != nil {
		return nil, err
	}
	defer f.policyVM.Reset()

	out, ok := f.policy.Output().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("runpolicy: policy predicted non-float64 "+
			"logits: %T", f.policy.Output().Data())
	}

	logits := make([]float64, len(out))
	copy(logits, out)
	return logits, nil
}

// runValue runs the value forward pass on a flattened batch of
// observations and returns one value estimate per sample
func (f *forward) runValue(obs []float64) ([]float64, error) {
	if err := f.value.SetInput(obs); err != nil {
		return nil, err
	}
	if err := f.valueVM.RunAll(); err != nil {
		return nil, err
	}
	defer f.valueVM.Reset()

	out, ok := f.value.Output().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("runvalue: critic predicted non-float64 "+
			"values: %T", f.value.Output().Data())
	}

	vals := make([]float64, len(out))
	copy(vals, out)
	return vals, nil
}
