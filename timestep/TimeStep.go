// Package timestep implements timesteps of the agent-environment
// interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either the
// first environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment. The
// Reward field holds the reward actually used for learning, which an
// environment or one of its wrappers may have shaped or clipped, while
// RawReward always holds the unmodified environmental reward so that
// evaluation can score episodes on the true objective.
type TimeStep struct {
	stepType  StepType
	Reward    float64
	RawReward float64
	Discount  float64

	Observation mat.Vector
	Number      int
}

// New constructs a new TimeStep with equal learning and raw rewards
func New(t StepType, reward, discount float64, obs mat.Vector,
	number int) TimeStep {
	return TimeStep{t, reward, reward, discount, obs, number}
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

// TerminalEnd returns whether a TimeStep ends an episode by reaching
// a terminal state. Episodes cut off by a step limit end with a
// non-zero discount, in which case future rewards would still have
// accrued and a learner should bootstrap off the final state's value.
func (t *TimeStep) TerminalEnd() bool {
	return t.stepType == Last && t.Discount == 0
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.Reward, t.Discount, t.Number)
}
