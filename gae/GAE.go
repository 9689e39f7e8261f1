// Package gae implements generalized advantage estimation - GAE(λ) -
// following https://arxiv.org/abs/1506.02438
package gae

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// errShapeMismatch reports a bootstrap value whose shape cannot be
// reconciled with the value estimate array
var errShapeMismatch = errors.New("bootstrap value shape mismatch")

// EstimationError implements errors unique to advantage estimation
type EstimationError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *EstimationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// IsShapeMismatch returns whether or not an error reports that a
// bootstrap value's shape could not be reconciled with the shape of
// the value estimates it extends
func IsShapeMismatch(err error) bool {
	var estErr *EstimationError
	if errors.As(err, &estErr) {
		err = estErr.Err
	}
	return err == errShapeMismatch
}

// Estimate computes the GAE(λ) advantages for a single trajectory of
// experience collected from numEnvs parallel environment instances.
//
// The rewards, values, and dones arguments are time-major T × numEnvs
// matrices: rewards holds the per-step rewards, values holds the
// critic's value estimate of each visited state, and dones holds 1 at
// the timesteps on which an episode ended for an environment slot and
// 0 elsewhere. The lastValue argument holds the critic's value
// estimate of the state following the final collected step of each
// slot; it bootstraps the recursion beyond the collected horizon. A
// lastValue of length 1 is broadcast across all slots, and any other
// length not equal to numEnvs is a shape mismatch error.
//
// If lastValue is nil there is no bootstrap signal at all, and the
// advantages are all zero. This is the degenerate contract used by
// callers holding terminal-only data with no critic available.
//
// The returned matrix has the same shape as rewards and shares no
// backing storage with any input. Estimate never mutates its inputs.
func Estimate(gamma, lambda float64, rewards, values *mat.Dense,
	lastValue []float64, dones *mat.Dense) (*mat.Dense, error) {
	timeSteps, numEnvs := rewards.Dims()
	advantages := mat.NewDense(timeSteps, numEnvs, nil)

	if lastValue == nil {
		return advantages, nil
	}

	if r, c := values.Dims(); r != timeSteps || c != numEnvs {
		return nil, fmt.Errorf("estimate: illegal values shape "+
			"\n\twant(%v × %v)\n\thave(%v × %v)", timeSteps, numEnvs, r, c)
	}
	if r, c := dones.Dims(); r != timeSteps || c != numEnvs {
		return nil, fmt.Errorf("estimate: illegal dones shape "+
			"\n\twant(%v × %v)\n\thave(%v × %v)", timeSteps, numEnvs, r, c)
	}

	// The bootstrap value extends the value estimates by one timestep.
	// A single value broadcasts across environment slots.
	bootstrap := make([]float64, numEnvs)
	switch len(lastValue) {
	case numEnvs:
		copy(bootstrap, lastValue)
	case 1:
		for i := range bootstrap {
			bootstrap[i] = lastValue[0]
		}
	default:
		return nil, &EstimationError{Op: "estimate", Err: errShapeMismatch}
	}

	// Backward recurrence over the trajectory:
	//	δ[t] = r[t] + γ v[t+1] (1 - done[t]) - v[t]
	//	A[t] = δ[t] + γ λ (1 - done[t]) A[t+1]
	running := make([]float64, numEnvs)
	for t := timeSteps - 1; t >= 0; t-- {
		for i := 0; i < numEnvs; i++ {
			nextValue := bootstrap[i]
			if t+1 < timeSteps {
				nextValue = values.At(t+1, i)
			}

			nonTerminal := 1.0 - dones.At(t, i)
			delta := rewards.At(t, i) + gamma*nextValue*nonTerminal -
				values.At(t, i)
			running[i] = delta + gamma*lambda*nonTerminal*running[i]
			advantages.Set(t, i, running[i])
		}
	}

	return advantages, nil
}
