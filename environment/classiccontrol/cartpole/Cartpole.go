// Package cartpole implements the Cartpole classic control environment
package cartpole

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/samuelfneumann/goppo/environment"
	ts "github.com/samuelfneumann/goppo/timestep"
	"github.com/samuelfneumann/goppo/utils/floatutils"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnitude of force applied
	Dt             float64 = 0.02 // Seconds between state updates

	// Episode failure thresholds
	FailPosition float64 = 2.4
	FailAngle    float64 = 12 * 2 * math.Pi / 360

	// Bound (+/-) on starting state features
	StartBound float64 = 0.05

	// Discrete actions
	MinAction int = 0 // Accelerate left
	MaxAction int = 1 // Accelerate right
)

// Cartpole implements the classic control Cartpole balance task. A
// pole is attached to a cart which moves along a frictionless track.
// The agent must keep the pole upright for as long as possible by
// accelerating the cart left or right.
//
// The state features are continuous and consist of the cart's x
// position and velocity, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity.
//
// Actions are discrete:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Accelerate right
//
// The reward is +1 on every timestep. Episodes end in failure when the
// cart leaves the legal track region or the pole falls below the
// failure angle; such endings are terminal. Episodes are also cut off
// after episodeSteps timesteps, which is not a terminal ending: a
// learner should bootstrap off the value of the final state.
type Cartpole struct {
	env.Starter
	state        *mat.VecDense
	stepNumber   int
	episodeSteps int
	seed         uint64

	positionBounds r1.Interval
	angleBounds    r1.Interval
}

// New constructs a new Cartpole environment with the given starting
// state distribution and episode step limit. The environment starts
// ready to use.
func New(starter env.Starter, episodeSteps int, seed uint64) *Cartpole {
	c := &Cartpole{
		Starter:      starter,
		episodeSteps: episodeSteps,
		seed:         seed,
		positionBounds: r1.Interval{
			Min: -FailPosition,
			Max: FailPosition,
		},
		angleBounds: r1.Interval{
			Min: -FailAngle,
			Max: FailAngle,
		},
	}
	c.Reset()
	return c
}

// NewDefault constructs a Cartpole with the standard uniform starting
// state distribution on [-StartBound, StartBound] for each feature.
func NewDefault(episodeSteps int, seed uint64) *Cartpole {
	bound := r1.Interval{Min: -StartBound, Max: StartBound}
	starter := env.NewUniformStarter(
		[]r1.Interval{bound, bound, bound, bound},
		seed,
	)
	return New(starter, episodeSteps, seed)
}

// Reset resets the environment between episodes, sampling a new
// starting state from the environment's Starter
func (c *Cartpole) Reset() ts.TimeStep {
	start := c.Start()
	if start.Len() != 4 {
		panic(fmt.Sprintf("reset: illegal starting state length "+
			"\n\twant(4)\n\thave(%v)", start.Len()))
	}

	c.state = mat.VecDenseCopyOf(start)
	c.stepNumber = 0

	return ts.New(ts.First, 0, 1, c.state, 0)
}

// Step advances the environment by one timestep given an action. The
// action vector's single element selects the direction of the force
// applied to the cart.
func (c *Cartpole) Step(action mat.Vector) (ts.TimeStep, bool, error) {
	direction := int(action.AtVec(0))
	if direction < MinAction || direction > MaxAction {
		return ts.TimeStep{}, false, fmt.Errorf("step: illegal action %v "+
			"∉ [%v, %v]", direction, MinAction, MaxAction)
	}

	force := ForceMag
	if direction == 0 {
		force = -ForceMag
	}

	x := c.state.AtVec(0)
	xDot := c.state.AtVec(1)
	theta := c.state.AtVec(2)
	thetaDot := c.state.AtVec(3)

	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	// Euler integration of the cart-pole dynamics
	temp := (force + PoleMass*HalfPoleLength*thetaDot*thetaDot*sinTheta) /
		TotalMass
	thetaAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - PoleMass*HalfPoleLength*thetaAcc*cosTheta/TotalMass

	x += Dt * xDot
	xDot += Dt * xAcc
	theta += Dt * thetaDot
	thetaDot += Dt * thetaAcc

	// The cart cannot leave the track, so the position is pinned to
	// its bounds and reaching a bound ends the episode
	x = floatutils.ClipInterval(x, c.positionBounds)

	c.state = mat.NewVecDense(4, []float64{x, xDot, theta, thetaDot})
	c.stepNumber++

	failed := x <= c.positionBounds.Min || x >= c.positionBounds.Max ||
		theta < c.angleBounds.Min || theta > c.angleBounds.Max
	cutoff := c.stepNumber >= c.episodeSteps

	stepType := ts.Mid
	discount := 1.0
	switch {
	case failed:
		stepType = ts.Last
		discount = 0.0
	case cutoff:
		stepType = ts.Last
	}

	step := ts.New(stepType, 1.0, discount, c.state, c.stepNumber)
	return step, step.Last(), nil
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Cartpole) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(4, nil)
	lowerBound := mat.NewVecDense(4, []float64{
		c.positionBounds.Min,
		math.Inf(-1),
		c.angleBounds.Min,
		math.Inf(-1),
	})
	upperBound := mat.NewVecDense(4, []float64{
		c.positionBounds.Max,
		math.Inf(1),
		c.angleBounds.Max,
		math.Inf(1),
	})

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (c *Cartpole) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MinAction)})
	upperBound := mat.NewVecDense(1, []float64{float64(MaxAction)})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Discrete)
}

// Fork returns an independent copy of the environment seeded with seed
func (c *Cartpole) Fork(seed uint64) env.Environment {
	return NewDefault(c.episodeSteps, seed)
}
