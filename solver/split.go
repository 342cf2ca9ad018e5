package solver

import (
	"fmt"
	"strings"

	"github.com/nnverify/plinth/certificate"
)

// An Equation is a linear equation Σ cᵢ·xᵢ = scalar that a case split may
// carry. The core only pushes bounds-only splits; equations appear on
// constraint variants whose phases cannot be expressed as boxes.
type Equation struct {
	Addends []RowEntry
	Scalar  float64
}

// A PiecewiseLinearCaseSplit is one disjunct of a piecewise-linear
// constraint: a bundle of bound tightenings, plus optional equations.
// Applying a split only ever tightens bounds.
type PiecewiseLinearCaseSplit struct {
	boundTightenings []Tightening
	equations        []Equation
}

// StoreBoundTightening appends a bound tightening to the split.
func (s *PiecewiseLinearCaseSplit) StoreBoundTightening(t Tightening) {
	s.boundTightenings = append(s.boundTightenings, t)
}

// BoundTightenings returns the split's bound tightenings.
func (s *PiecewiseLinearCaseSplit) BoundTightenings() []Tightening {
	return s.boundTightenings
}

// AddEquation appends an equation to the split.
func (s *PiecewiseLinearCaseSplit) AddEquation(eq Equation) {
	s.equations = append(s.equations, eq)
}

// Equations returns the split's equations.
func (s *PiecewiseLinearCaseSplit) Equations() []Equation {
	return s.equations
}

// Equals reports whether the two splits carry the same tightenings and
// equations, in the same order. It implements certificate.Split so that the
// proof tree can locate the child node corresponding to a split.
func (s PiecewiseLinearCaseSplit) Equals(other certificate.Split) bool {
	o, ok := other.(PiecewiseLinearCaseSplit)
	if !ok {
		return false
	}
	if len(s.boundTightenings) != len(o.boundTightenings) ||
		len(s.equations) != len(o.equations) {
		return false
	}
	for i, t := range s.boundTightenings {
		if t != o.boundTightenings[i] {
			return false
		}
	}
	for i, eq := range s.equations {
		if eq.Scalar != o.equations[i].Scalar || len(eq.Addends) != len(o.equations[i].Addends) {
			return false
		}
		for j, a := range eq.Addends {
			if a != o.equations[i].Addends[j] {
				return false
			}
		}
	}
	return true
}

func (s PiecewiseLinearCaseSplit) String() string {
	parts := make([]string, 0, len(s.boundTightenings))
	for _, t := range s.boundTightenings {
		parts = append(parts, fmt.Sprintf("x%d %s %g", t.Variable, t.Kind, t.Value))
	}
	return strings.Join(parts, ", ")
}
