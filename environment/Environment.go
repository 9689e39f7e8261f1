// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goppo/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Cardinality indicates whether the associated type is continuous or
// discrete
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action or an observation
type SpecType int

const (
	Action SpecType = iota
	Observation
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action or observation in an environment
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a new environment specification. The shape
// argument outlines the shape of the data described by the
// specification, and the cardinality describes whether the values the
// spec describes are continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// Environment implements a simulated environment. Environments start
// ready to use and are reset between episodes. Step returns the
// timestep resulting from the action and whether that timestep was the
// last in the episode.
type Environment interface {
	Reset() timestep.TimeStep
	Step(action mat.Vector) (timestep.TimeStep, bool, error)
	ObservationSpec() Spec
	ActionSpec() Spec

	// Fork returns an independent copy of the environment seeded
	// with seed, leaving the receiver untouched. Vectorized rollouts
	// use Fork to advance many instances of one environment.
	Fork(seed uint64) Environment
}
