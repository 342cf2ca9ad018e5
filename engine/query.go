// Package engine provides a reference engine around the search core: a
// verification query, a dense tableau backed by an LU factorization, and
// the search loop tying the row bound tightener and the SmtCore together.
package engine

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nnverify/plinth/solver"
)

// An Addend is one term of a linear equation.
type Addend struct {
	Coefficient float64 `json:"coefficient"`
	Variable    int     `json:"variable"`
}

// An Equation is Σ coefficientᵢ·xᵢ = scalar.
type Equation struct {
	Addends []Addend `json:"addends"`
	Scalar  float64  `json:"scalar"`
}

// A VariableBound constrains one variable's range. A nil side is unbounded.
type VariableBound struct {
	Variable int      `json:"variable"`
	Lower    *float64 `json:"lower,omitempty"`
	Upper    *float64 `json:"upper,omitempty"`
}

// A ReLUSpec declares f = max(0, b). Aux, when present, names the variable
// carrying f - b; the query must then include the equation f - b - aux = 0
// and the bound aux >= 0.
type ReLUSpec struct {
	B   int  `json:"b"`
	F   int  `json:"f"`
	Aux *int `json:"aux,omitempty"`
}

// A PairSpec declares a constraint over an input b and an output f.
type PairSpec struct {
	B int `json:"b"`
	F int `json:"f"`
}

// A MaxSpec declares f = max(elements), with one auxiliary difference
// variable per element (auxᵢ = f - elementᵢ).
type MaxSpec struct {
	F        int   `json:"f"`
	Elements []int `json:"elements"`
	Aux      []int `json:"aux"`
}

// A Query is a verification problem: linear equations and variable bounds
// plus piecewise-linear constraints.
type Query struct {
	NumVariables   int             `json:"numVariables"`
	Bounds         []VariableBound `json:"bounds,omitempty"`
	Equations      []Equation      `json:"equations,omitempty"`
	ReLUs          []ReLUSpec      `json:"relus,omitempty"`
	AbsoluteValues []PairSpec      `json:"abs,omitempty"`
	Signs          []PairSpec      `json:"signs,omitempty"`
	Maxes          []MaxSpec       `json:"maxes,omitempty"`
	// InputVariables names the variables the divide-and-conquer mode may
	// bisect on.
	InputVariables []int `json:"inputVariables,omitempty"`
}

// ParseQuery decodes a JSON query.
func ParseQuery(r io.Reader) (*Query, error) {
	var q Query
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		return nil, errors.Wrap(err, "parsing query")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// ParseQueryFile decodes a JSON query from a file.
func ParseQueryFile(path string) (*Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening query")
	}
	defer f.Close()
	return ParseQuery(f)
}

// Validate checks that every variable reference is in range.
func (q *Query) Validate() error {
	if q.NumVariables <= 0 {
		return errors.New("query: numVariables must be positive")
	}
	check := func(v int, what string) error {
		if v < 0 || v >= q.NumVariables {
			return errors.Errorf("query: %s references variable %d, have %d variables",
				what, v, q.NumVariables)
		}
		return nil
	}

	for _, b := range q.Bounds {
		if err := check(b.Variable, "bound"); err != nil {
			return err
		}
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return errors.Errorf("query: empty bound box for variable %d", b.Variable)
		}
	}
	for _, eq := range q.Equations {
		if len(eq.Addends) == 0 {
			return errors.New("query: equation without addends")
		}
		for _, a := range eq.Addends {
			if err := check(a.Variable, "equation"); err != nil {
				return err
			}
		}
	}
	for _, r := range q.ReLUs {
		for _, v := range []int{r.B, r.F} {
			if err := check(v, "relu"); err != nil {
				return err
			}
		}
		if r.Aux != nil {
			if err := check(*r.Aux, "relu aux"); err != nil {
				return err
			}
		}
	}
	for _, p := range q.AbsoluteValues {
		if err := check(p.B, "abs"); err != nil {
			return err
		}
		if err := check(p.F, "abs"); err != nil {
			return err
		}
	}
	for _, p := range q.Signs {
		if err := check(p.B, "sign"); err != nil {
			return err
		}
		if err := check(p.F, "sign"); err != nil {
			return err
		}
	}
	for _, m := range q.Maxes {
		if err := check(m.F, "max"); err != nil {
			return err
		}
		if len(m.Elements) != len(m.Aux) || len(m.Elements) < 2 {
			return errors.New("query: max needs matching elements and aux, two or more")
		}
		for _, v := range append(append([]int{}, m.Elements...), m.Aux...) {
			if err := check(v, "max"); err != nil {
				return err
			}
		}
	}
	for _, v := range q.InputVariables {
		if err := check(v, "input"); err != nil {
			return err
		}
	}
	return nil
}

// constraints instantiates the piecewise-linear constraints of the query.
func (q *Query) constraints() []solver.PiecewiseLinearConstraint {
	var out []solver.PiecewiseLinearConstraint
	for _, r := range q.ReLUs {
		relu := solver.NewReLU(r.B, r.F)
		if r.Aux != nil {
			relu.SetAuxVariable(*r.Aux)
		}
		out = append(out, relu)
	}
	for _, p := range q.AbsoluteValues {
		out = append(out, solver.NewAbs(p.B, p.F))
	}
	for _, p := range q.Signs {
		out = append(out, solver.NewSign(p.B, p.F))
	}
	for _, m := range q.Maxes {
		out = append(out, solver.NewMax(m.F, m.Elements, m.Aux))
	}
	return out
}
