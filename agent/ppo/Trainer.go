package ppo

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/minibatch"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// trainer holds the training graphs of the agent for one minibatch
// size. The policy graph computes the clipped surrogate objective
// with an entropy bonus; the value graph computes the critic's
// squared-error loss. Both carry their own Adam solvers.
//
// Gorgonia's Min is an axis reduction rather than a binary op, so the
// elementwise min and clip of the surrogate objective are expressed
// through the identities
//
//	min(a, b)      = (a + b - |a - b|) / 2
//	clip(x, lo, hi) = (lo + hi + |x - lo| - |x - hi|) / 2
type trainer struct {
	version   int
	lrVersion int

	policy       network.NeuralNet
	policyVM     G.VM
	policySolver G.Solver

	actions     *G.Node // One-hot selected actions, (n, numActions)
	oldLogProbs *G.Node // (n)
	advantages  *G.Node // (n)
	clipRange   *G.Node // Scalar ε

	newLogProbsVal G.Value
	ratioVal       G.Value
	policyLossVal  G.Value
	entropyVal     G.Value

	value       network.NeuralNet
	valueVM     G.VM
	valueSolver G.Solver
	targets     *G.Node // (n, 1)

	valueLossVal G.Value
}

// newTrainer builds the training graphs for the given minibatch size,
// copying the agent's current weights
func newTrainer(p *PPO, batch int) (*trainer, error) {
	policy, err := p.policy.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newtrainer: could not clone policy: %v",
			err)
	}
	value, err := p.value.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newtrainer: could not clone value "+
			"network: %v", err)
	}

	tr := &trainer{
		version:   p.version,
		lrVersion: p.lrVersion,
		policy:    policy,
		value:     value,
	}

	if err := tr.buildPolicyLoss(p, batch); err != nil {
		return nil, fmt.Errorf("newtrainer: %v", err)
	}
	if err := tr.buildValueLoss(batch); err != nil {
		return nil, fmt.Errorf("newtrainer: %v", err)
	}
	tr.rebuildSolvers(p, batch)

	return tr, nil
}

// buildPolicyLoss adds the clipped surrogate objective to the policy
// network's graph
func (tr *trainer) buildPolicyLoss(p *PPO, batch int) error {
	g := tr.policy.Graph()
	logits := tr.policy.Prediction()

	tr.actions = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, p.numActions),
		G.WithName("actions"),
		G.WithInit(G.Zeroes()),
	)
	tr.oldLogProbs = G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("old_log_probs"),
		G.WithInit(G.Zeroes()),
	)
	tr.advantages = G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithName("advantages"),
		G.WithInit(G.Zeroes()),
	)
	tr.clipRange = G.NewScalar(
		g,
		tensor.Float64,
		G.WithName("clip_range"),
	)

	// Log probability of the actions taken during the rollout under
	// the current policy
	selected := G.Must(G.HadamardProd(tr.actions, logits))
	selected = G.Must(G.Sum(selected, 1))
	newLogProbs := G.Must(G.Sub(selected, logSumExp(logits, 1)))
	G.Read(newLogProbs, &tr.newLogProbsVal)

	ratio := G.Must(G.Exp(G.Must(G.Sub(newLogProbs, tr.oldLogProbs))))
	G.Read(ratio, &tr.ratioVal)

	one := G.NewConstant(1.0)
	half := G.NewConstant(0.5)
	lo := G.Must(G.Sub(one, tr.clipRange))
	hi := G.Must(G.Add(one, tr.clipRange))

	// clip(ratio, lo, hi)
	clipped := G.Must(G.Sub(
		G.Must(G.Abs(G.Must(G.Sub(ratio, lo)))),
		G.Must(G.Abs(G.Must(G.Sub(ratio, hi)))),
	))
	clipped = G.Must(G.Add(G.Must(G.Add(lo, hi)), clipped))
	clipped = G.Must(G.Mul(half, clipped))

	surrogate := G.Must(G.HadamardProd(ratio, tr.advantages))
	clippedSurrogate := G.Must(G.HadamardProd(clipped, tr.advantages))

	// min(surrogate, clippedSurrogate)
	pessimistic := G.Must(G.Sub(
		G.Must(G.Add(surrogate, clippedSurrogate)),
		G.Must(G.Abs(G.Must(G.Sub(surrogate, clippedSurrogate)))),
	))
	pessimistic = G.Must(G.Mul(half, pessimistic))

	policyLoss := G.Must(G.Neg(G.Must(G.Mean(pessimistic))))
	G.Read(policyLoss, &tr.policyLossVal)

	// Entropy bonus of the categorical distribution
	probs := G.Must(G.SoftMax(logits, 1))
	plogp := G.Must(G.HadamardProd(probs, G.Must(G.Log(probs))))
	entropy := G.Must(G.Neg(G.Must(G.Mean(G.Must(G.Sum(plogp, 1))))))
	G.Read(entropy, &tr.entropyVal)

	entropyCoef := G.NewConstant(p.config.EntropyCoef)
	loss := G.Must(G.Sub(policyLoss, G.Must(G.Mul(entropyCoef, entropy))))

	if _, err := G.Grad(loss, tr.policy.Learnables()...); err != nil {
		return fmt.Errorf("could not construct policy gradient: %v", err)
	}
	tr.policyVM = G.NewTapeMachine(g,
		G.BindDualValues(tr.policy.Learnables()...))
	return nil
}

// buildValueLoss adds the critic's squared-error loss to the value
// network's graph
func (tr *trainer) buildValueLoss(batch int) error {
	g := tr.value.Graph()

	tr.targets = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, 1),
		G.WithName("value_targets"),
		G.WithInit(G.Zeroes()),
	)

	loss := G.Must(G.Sub(tr.value.Prediction(), tr.targets))
	loss = G.Must(G.Mean(G.Must(G.Square(loss))))
	G.Read(loss, &tr.valueLossVal)

	if _, err := G.Grad(loss, tr.value.Learnables()...); err != nil {
		return fmt.Errorf("could not construct value gradient: %v", err)
	}
	tr.valueVM = G.NewTapeMachine(g,
		G.BindDualValues(tr.value.Learnables()...))
	return nil
}

// rebuildSolvers creates the Adam solvers with the agent's current
// learning rates. Solver moments restart when a decay step changes
// the learning rate.
func (tr *trainer) rebuildSolvers(p *PPO, batch int) {
	tr.policySolver = G.NewAdamSolver(
		G.WithLearnRate(p.policyLR),
		G.WithBatchSize(float64(batch)),
	)
	tr.valueSolver = G.NewAdamSolver(
		G.WithLearnRate(p.valueLR),
		G.WithBatchSize(float64(batch)),
	)
	tr.lrVersion = p.lrVersion
}

// step performs one policy update and ValueGradSteps critic updates
// from the minibatch, returning the update metrics
func (tr *trainer) step(p *PPO, batch minibatch.Batch) (
	map[string]float64, error) {
	n := batch.Size()

	obs, ok := batch.Obs.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("step: observations must hold float64 "+
			"data, got %v", batch.Obs.Dtype())
	}
	actions, ok := batch.Actions.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("step: actions must hold float64 data, "+
			"got %v", batch.Actions.Dtype())
	}

	// One-hot encode the selected actions
	oneHot := make([]float64, n*p.numActions)
	for i := 0; i < n; i++ {
		action := int(actions[i])
		if action < 0 || action >= p.numActions {
			return nil, fmt.Errorf("step: illegal action %v ∉ "+
				"[0, %v)", action, p.numActions)
		}
		oneHot[i*p.numActions+action] = 1.0
	}

	if err := tr.policy.SetInput(obs); err != nil {
		return nil, fmt.Errorf("step: %v", err)
	}
	if err := G.Let(tr.actions, tensor.NewDense(tensor.Float64,
		[]int{n, p.numActions}, tensor.WithBacking(oneHot))); err != nil {
		return nil, fmt.Errorf("step: could not bind actions: %v", err)
	}
	if err := G.Let(tr.oldLogProbs, tensor.NewDense(tensor.Float64,
		[]int{n}, tensor.WithBacking(clone(batch.LogProbs)))); err != nil {
		return nil, fmt.Errorf("step: could not bind log probs: %v", err)
	}
	if err := G.Let(tr.advantages, tensor.NewDense(tensor.Float64,
		[]int{n},
		tensor.WithBacking(clone(batch.Advantages)))); err != nil {
		return nil, fmt.Errorf("step: could not bind advantages: %v", err)
	}
	if err := G.Let(tr.clipRange, p.clipRange); err != nil {
		return nil, fmt.Errorf("step: could not bind clip range: %v", err)
	}

	if err := tr.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("step: policy update failed: %v", err)
	}
	if err := tr.policySolver.Step(tr.policy.Model()); err != nil {
		return nil, fmt.Errorf("step: policy solver failed: %v", err)
	}
	tr.policyVM.Reset()

	newLogProbs := tr.newLogProbsVal.Data().([]float64)
	ratios := tr.ratioVal.Data().([]float64)

	approxKL := 0.0
	clipFrac := 0.0
	for i := range newLogProbs {
		approxKL += batch.LogProbs[i] - newLogProbs[i]
		if math.Abs(ratios[i]-1) > p.clipRange {
			clipFrac++
		}
	}
	approxKL /= float64(n)
	clipFrac /= float64(n)

	// Critic updates
	for i := 0; i < p.config.ValueGradSteps; i++ {
		if err := tr.value.SetInput(obs); err != nil {
			return nil, fmt.Errorf("step: %v", err)
		}
		if err := G.Let(tr.targets, tensor.NewDense(tensor.Float64,
			[]int{n, 1},
			tensor.WithBacking(clone(batch.Returns)))); err != nil {
			return nil, fmt.Errorf("step: could not bind value "+
				"targets: %v", err)
		}
		if err := tr.valueVM.RunAll(); err != nil {
			return nil, fmt.Errorf("step: value update failed: %v", err)
		}
		if err := tr.valueSolver.Step(tr.value.Model()); err != nil {
			return nil, fmt.Errorf("step: value solver failed: %v", err)
		}
		tr.valueVM.Reset()
	}

	return map[string]float64{
		"pg_loss":    scalar(tr.policyLossVal),
		"vf_loss":    scalar(tr.valueLossVal),
		"entropy":    scalar(tr.entropyVal),
		"approx_kl":  approxKL,
		"clip_frac":  clipFrac,
		"clip_range": p.clipRange,
		"max_ratio":  floatutils.Max(ratios...),
	}, nil
}

// clone copies a float64 slice so graph inputs never alias caller data
func clone(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

// scalar extracts a scalar float64 out of a Gorgonia value
func scalar(v G.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	default:
		panic(fmt.Sprintf("scalar: value holds %T, not float64", data))
	}
}
