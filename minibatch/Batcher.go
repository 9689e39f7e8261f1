// Package minibatch implements the transformation of a trajectory and
// its advantage estimates into shuffled fixed-size minibatches
package minibatch

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/trajectory"
)

// Config describes how a Batcher partitions samples
type Config struct {
	// BatchSize is the number of samples per minibatch. The final
	// minibatch of an epoch may be smaller when BatchSize does not
	// divide the number of samples.
	BatchSize int

	// Shuffle determines whether samples are shuffled before being
	// partitioned, independently for each epoch
	Shuffle bool

	// NormalizeAdvantages determines whether advantages are
	// standardized to mean 0 and standard deviation 1 before batching
	NormalizeAdvantages bool
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("validate: batch size must be positive, got %v",
			c.BatchSize)
	}
	return nil
}

// Batch holds one minibatch of flattened samples. Observations and
// actions keep their per-sample feature dimensions flattened to one
// axis, so Obs has shape (n, obs features) and Actions has shape
// (n, action dims).
type Batch struct {
	Obs        *tensor.Dense
	Actions    *tensor.Dense
	Returns    []float64
	Advantages []float64
	LogProbs   []float64
	Vals       []float64
}

// Size returns the number of samples in the minibatch
func (b Batch) Size() int {
	return len(b.Returns)
}

// Batcher partitions the flattened samples of one trajectory into
// minibatches. Every sample appears in exactly one minibatch per
// epoch, and each call to Epoch re-shuffles the partition.
//
// The per-sample return targets are derived as advantage + value
// estimate, following the generalized advantage estimation
// formulation.
type Batcher struct {
	config Config
	rng    *rand.Rand

	numSamples  int
	obsFeatures int
	actFeatures int

	obs        []float64 // Flattened, sample-major
	actions    []float64 // Flattened, sample-major
	returns    []float64
	advantages []float64
	logProbs   []float64
	vals       []float64

	indices []int
}

// New creates and returns a new Batcher over the samples of traj,
// using the advantage estimates in advantages. The advantages matrix
// must be time-major with the same shape as the trajectory's rewards.
func New(traj *trajectory.Trajectory, advantages *mat.Dense,
	config Config, seed uint64) (*Batcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	timeSteps := traj.TimeSteps()
	numEnvs := traj.NumEnvs()
	numSamples := timeSteps * numEnvs

	if r, c := advantages.Dims(); r != timeSteps || c != numEnvs {
		return nil, fmt.Errorf("new: illegal advantages shape "+
			"\n\twant(%v × %v)\n\thave(%v × %v)", timeSteps, numEnvs, r, c)
	}

	// Flatten the time-major trajectory into sample-major slices,
	// sample i holding timestep i / numEnvs of slot i % numEnvs
	vals := traj.Vals()
	logProbs := traj.LogProbs()

	adv := make([]float64, numSamples)
	ret := make([]float64, numSamples)
	lp := make([]float64, numSamples)
	vl := make([]float64, numSamples)
	for t := 0; t < timeSteps; t++ {
		for e := 0; e < numEnvs; e++ {
			i := t*numEnvs + e
			adv[i] = advantages.At(t, e)
			vl[i] = vals.At(t, e)
			ret[i] = adv[i] + vl[i]
			lp[i] = logProbs.At(t, e)
		}
	}

	if config.NormalizeAdvantages {
		normalize(adv)
	}

	obs, obsFeatures, err := flatten(traj.Observations, numSamples)
	if err != nil {
		return nil, fmt.Errorf("new: could not flatten observations: %v",
			err)
	}
	actions, actFeatures, err := flatten(traj.Actions, numSamples)
	if err != nil {
		return nil, fmt.Errorf("new: could not flatten actions: %v", err)
	}

	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}

	return &Batcher{
		config:      config,
		rng:         rand.New(rand.NewSource(seed)),
		numSamples:  numSamples,
		obsFeatures: obsFeatures,
		actFeatures: actFeatures,
		obs:         obs,
		actions:     actions,
		returns:     ret,
		advantages:  adv,
		logProbs:    lp,
		vals:        vl,
		indices:     indices,
	}, nil
}

// NumSamples returns the total number of samples partitioned by the
// Batcher
func (b *Batcher) NumSamples() int {
	return b.numSamples
}

// NumBatches returns the number of minibatches per epoch
func (b *Batcher) NumBatches() int {
	return (b.numSamples + b.config.BatchSize - 1) / b.config.BatchSize
}

// Epoch partitions all samples into minibatches for one optimization
// epoch. When shuffling is enabled the partition is re-drawn
// independently on every call.
func (b *Batcher) Epoch() []Batch {
	if b.config.Shuffle {
		b.rng.Shuffle(len(b.indices), func(i, j int) {
			b.indices[i], b.indices[j] = b.indices[j], b.indices[i]
		})
	}

	batches := make([]Batch, 0, b.NumBatches())
	for start := 0; start < b.numSamples; start += b.config.BatchSize {
		stop := start + b.config.BatchSize
		if stop > b.numSamples {
			stop = b.numSamples
		}
		batches = append(batches, b.gather(b.indices[start:stop]))
	}
	return batches
}

// gather copies the samples at the argument indices into a new Batch
func (b *Batcher) gather(indices []int) Batch {
	n := len(indices)
	batch := Batch{
		Returns:    make([]float64, n),
		Advantages: make([]float64, n),
		LogProbs:   make([]float64, n),
		Vals:       make([]float64, n),
	}

	obs := make([]float64, n*b.obsFeatures)
	actions := make([]float64, n*b.actFeatures)
	for row, i := range indices {
		copy(obs[row*b.obsFeatures:(row+1)*b.obsFeatures],
			b.obs[i*b.obsFeatures:(i+1)*b.obsFeatures])
		copy(actions[row*b.actFeatures:(row+1)*b.actFeatures],
			b.actions[i*b.actFeatures:(i+1)*b.actFeatures])

		batch.Returns[row] = b.returns[i]
		batch.Advantages[row] = b.advantages[i]
		batch.LogProbs[row] = b.logProbs[i]
		batch.Vals[row] = b.vals[i]
	}

	batch.Obs = tensor.NewDense(
		tensor.Float64,
		[]int{n, b.obsFeatures},
		tensor.WithBacking(obs),
	)
	batch.Actions = tensor.NewDense(
		tensor.Float64,
		[]int{n, b.actFeatures},
		tensor.WithBacking(actions),
	)
	return batch
}

// normalize standardizes values to mean 0 and standard deviation 1
// in place, with a small epsilon guarding against zero deviation
func normalize(values []float64) {
	mean := stat.Mean(values, nil)
	std := stat.StdDev(values, nil) + 1e-8
	for i := range values {
		values[i] = (values[i] - mean) / std
	}
}

// flatten reshapes a time-major tensor with leading dimensions
// (T, numEnvs, features...) into a sample-major slice, returning the
// backing data and the flattened per-sample feature size
func flatten(data *tensor.Dense, numSamples int) ([]float64, int, error) {
	shape := data.Shape()
	if len(shape) < 2 {
		return nil, 0, fmt.Errorf("flatten: tensor must have at least "+
			"time and environment dimensions, got shape %v", shape)
	}

	features := 1
	for _, dim := range shape[2:] {
		features *= dim
	}

	backing, ok := data.Data().([]float64)
	if !ok {
		return nil, 0, fmt.Errorf("flatten: tensor must hold float64 "+
			"data, got %v", data.Dtype())
	}
	if len(backing) != numSamples*features {
		return nil, 0, fmt.Errorf("flatten: illegal backing length "+
			"\n\twant(%v)\n\thave(%v)", numSamples*features, len(backing))
	}

	out := make([]float64, len(backing))
	copy(out, backing)
	return out, features, nil
}
