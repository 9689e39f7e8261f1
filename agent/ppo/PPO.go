// Package ppo implements the Proximal Policy Optimization algorithm
// with a clipped surrogate objective over a categorical policy.
// This implementation follows https://arxiv.org/abs/1707.06347
package ppo

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/agent"
	"github.com/samuelfneumann/goppo/minibatch"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// PPO implements a clipped-surrogate PPO agent with a categorical MLP
// actor and an MLP critic.
//
// Gorgonia computational graphs have fixed input shapes, so the agent
// keeps its authoritative weights in batch-size-1 networks and lazily
// builds forward and training graphs per observed batch size, syncing
// weights through network.Set around every use. This is the same
// weight-copy discipline the networks' CloneWithBatch machinery is
// built for.
type PPO struct {
	config     Config
	features   int
	numActions int

	// Authoritative weights
	policy network.NeuralNet
	value  network.NeuralNet

	// version counts weight mutations so cached graphs know when
	// to resync
	version int

	// lrVersion counts learning rate changes so cached training
	// graphs know when to rebuild their solvers
	lrVersion int

	forwards map[int]*forward
	trainers map[int]*trainer

	policyLR  float64
	valueLR   float64
	clipRange float64

	eval bool
	rng  *rand.Rand
}

// New creates and returns a new PPO agent acting on observation
// vectors of length features and choosing among numActions discrete
// actions.
func New(features, numActions int, config Config, seed uint64) (*PPO,
	error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if features < 1 || numActions < 2 {
		return nil, fmt.Errorf("new: need at least 1 feature and 2 "+
			"actions, got %v and %v", features, numActions)
	}

	policy, err := network.NewMLP(features, 1, numActions, G.NewGraph(),
		config.HiddenSizes, config.Biases, G.GlorotU(1.0),
		config.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy network: %v",
			err)
	}

	value, err := network.NewMLP(features, 1, 1, G.NewGraph(),
		config.HiddenSizes, config.Biases, G.GlorotU(1.0),
		config.Activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create value network: %v",
			err)
	}

	return &PPO{
		config:     config,
		features:   features,
		numActions: numActions,
		policy:     policy,
		value:      value,
		forwards:   make(map[int]*forward),
		trainers:   make(map[int]*trainer),
		policyLR:   config.PolicyLR,
		valueLR:    config.ValueLR,
		clipRange:  config.ClipRange,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// EvalMode places the agent in evaluation mode
func (p *PPO) EvalMode() { p.eval = true }

// TrainMode places the agent in training mode
func (p *PPO) TrainMode() { p.eval = false }

// ClipRange returns the current surrogate clip range
func (p *PPO) ClipRange() float64 { return p.clipRange }

// LearningRates returns the current learning rate of the actor and
// critic
func (p *PPO) LearningRates() map[string]float64 {
	return map[string]float64{
		"policy_lr": p.policyLR,
		"value_lr":  p.valueLR,
	}
}

// DecayLR applies one step of the linear learning rate schedule
func (p *PPO) DecayLR() {
	if p.config.LRDecaySteps <= 0 {
		return
	}
	p.policyLR = math.Max(0,
		p.policyLR-p.config.PolicyLR/float64(p.config.LRDecaySteps))
	p.valueLR = math.Max(0,
		p.valueLR-p.config.ValueLR/float64(p.config.LRDecaySteps))
	p.lrVersion++
}

// DecayClipRange applies one step of the linear clip range schedule
func (p *PPO) DecayClipRange() {
	if p.config.ClipDecaySteps <= 0 {
		return
	}
	p.clipRange = math.Max(0,
		p.clipRange-p.config.ClipRange/float64(p.config.ClipDecaySteps))
}

// Predict selects one action per observation in obs, which must have
// leading dimension batch. When sample is true actions are drawn from
// the policy distribution, otherwise the most probable action is
// taken. The returned Prediction also carries the critic's value
// estimates and the log probabilities of the selected actions.
func (p *PPO) Predict(obs *tensor.Dense, sample bool) (agent.Prediction,
	error) {
	batch, data, err := p.flatten(obs)
	if err != nil {
		return agent.Prediction{}, fmt.Errorf("predict: %v", err)
	}

	fwd, err := p.forward(batch)
	if err != nil {
		return agent.Prediction{}, fmt.Errorf("predict: %v", err)
	}

	logits, err := fwd.runPolicy(data)
	if err != nil {
		return agent.Prediction{}, fmt.Errorf("predict: %v", err)
	}
	vals, err := fwd.runValue(data)
	if err != nil {
		return agent.Prediction{}, fmt.Errorf("predict: %v", err)
	}

	pred := agent.Prediction{
		Actions:  make([]float64, batch),
		Vals:     vals,
		LogProbs: make([]float64, batch),
	}
	for i := 0; i < batch; i++ {
		row := logits[i*p.numActions : (i+1)*p.numActions]
		action := p.choose(row, sample)
		pred.Actions[i] = float64(action)
		pred.LogProbs[i] = row[action] - logSumExpFloats(row)
	}
	return pred, nil
}

// Value returns the critic's value estimate of each observation
func (p *PPO) Value(obs *tensor.Dense) ([]float64, error) {
	batch, data, err := p.flatten(obs)
	if err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}

	fwd, err := p.forward(batch)
	if err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}

	vals, err := fwd.runValue(data)
	if err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}
	return vals, nil
}

// Optimize performs a single clipped-surrogate update of the actor
// and critic from one minibatch, returning the update's metrics.
func (p *PPO) Optimize(batch minibatch.Batch) (map[string]float64,
	error) {
	n := batch.Size()
	if n == 0 {
		return nil, fmt.Errorf("optimize: empty minibatch")
	}

	tr, err := p.trainer(n)
	if err != nil {
		return nil, fmt.Errorf("optimize: %v", err)
	}

	metrics, err := tr.step(p, batch)
	if err != nil {
		return nil, fmt.Errorf("optimize: %v", err)
	}

	// Updated weights become authoritative
	if err := p.policy.Set(tr.policy); err != nil {
		return nil, fmt.Errorf("optimize: could not sync policy "+
			"weights: %v", err)
	}
	if err := p.value.Set(tr.value); err != nil {
		return nil, fmt.Errorf("optimize: could not sync value "+
			"weights: %v", err)
	}
	p.version++
	tr.version = p.version

	return metrics, nil
}

// forward returns the cached forward-pass graphs for the given batch
// size, building and syncing them as needed
func (p *PPO) forward(batch int) (*forward, error) {
	fwd, ok := p.forwards[batch]
	if !ok {
		var err error
		fwd, err = newForward(p, batch)
		if err != nil {
			return nil, err
		}
		p.forwards[batch] = fwd
	}

	if fwd.version != p.version {
		if err := fwd.policy.Set(p.policy); err != nil {
			return nil, err
		}
		if err := fwd.value.Set(p.value); err != nil {
			return nil, err
		}
		fwd.version = p.version
	}
	return fwd, nil
}

// trainer returns the cached training graphs for the given batch
// size, building and syncing them as needed
func (p *PPO) trainer(batch int) (*trainer, error) {
	tr, ok := p.trainers[batch]
	if !ok {
		var err error
		tr, err = newTrainer(p, batch)
		if err != nil {
			return nil, err
		}
		p.trainers[batch] = tr
	}

	if tr.version != p.version {
		if err := tr.policy.Set(p.policy); err != nil {
			return nil, err
		}
		if err := tr.value.Set(p.value); err != nil {
			return nil, err
		}
		tr.version = p.version
	}
	if tr.lrVersion != p.lrVersion {
		tr.rebuildSolvers(p, batch)
	}
	return tr, nil
}

// flatten checks that obs holds batch observation vectors of the
// agent's feature length and returns its backing data
func (p *PPO) flatten(obs *tensor.Dense) (int, []float64, error) {
	shape := obs.Shape()
	if len(shape) < 2 {
		return 0, nil, fmt.Errorf("observations must be batched, got "+
			"shape %v", shape)
	}

	features := 1
	for _, dim := range shape[1:] {
		features *= dim
	}
	if features != p.features {
		return 0, nil, fmt.Errorf("illegal observation size "+
			"\n\twant(%v)\n\thave(%v)", p.features, features)
	}

	data, ok := obs.Data().([]float64)
	if !ok {
		return 0, nil, fmt.Errorf("observations must hold float64 data, "+
			"got %v", obs.Dtype())
	}

	out := make([]float64, len(data))
	copy(out, data)
	return shape[0], out, nil
}

// choose selects an action index from one row of logits
func (p *PPO) choose(logits []float64, sample bool) int {
	if !sample {
		return floatutils.ArgMax(logits...)
	}

	lse := logSumExpFloats(logits)
	u := p.rng.Float64()
	cumulative := 0.0
	for i, l := range logits {
		cumulative += math.Exp(l - lse)
		if u < cumulative {
			return i
		}
	}
	return len(logits) - 1
}

// logSumExpFloats computes log(Σ exp(x)) stably
func logSumExpFloats(x []float64) float64 {
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// logSumExp adds log(Σ exp(logits)) along an axis to the graph
func logSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}
