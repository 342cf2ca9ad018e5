package engine

import (
	"github.com/pkg/errors"

	"github.com/nnverify/plinth/lu"
	"github.com/nnverify/plinth/solver"
)

// A Tableau is a dense constraint matrix in standard form. Every equation
// of the query receives one slack variable fixed to zero, and the slack
// columns form the initial basis, factorized through lu.LUFactors.
//
// It implements solver.Tableau.
type Tableau struct {
	n, m int

	columns  [][]float64 // columns[v] has m entries
	b        []float64
	basic    []int
	nonBasic []int

	bm      *solver.BoundManager
	factors *lu.LUFactors
	pivot   *solver.TableauRow
}

// newTableau builds the tableau for the query's equations. The bound
// manager must already hold the query variables; the slack variables are
// registered here, pinned to [0, 0].
func newTableau(q *Query, bm *solver.BoundManager) (*Tableau, error) {
	m := len(q.Equations)
	n := q.NumVariables + m
	t := &Tableau{n: n, m: m, bm: bm}

	t.columns = make([][]float64, n)
	for v := 0; v < n; v++ {
		t.columns[v] = make([]float64, m)
	}
	t.b = make([]float64, m)

	for i, eq := range q.Equations {
		for _, a := range eq.Addends {
			t.columns[a.Variable][i] += a.Coefficient
		}
		t.b[i] = eq.Scalar

		slack := bm.RegisterNewVariable()
		t.columns[slack][i] = 1
		bm.SetLowerBound(slack, 0)
		bm.SetUpperBound(slack, 0)
		t.basic = append(t.basic, slack)
	}
	for v := 0; v < q.NumVariables; v++ {
		t.nonBasic = append(t.nonBasic, v)
	}

	t.factors = lu.New(m)
	if err := t.refactorize(); err != nil {
		return nil, err
	}
	return t, nil
}

// refactorize rebuilds the LU factorization of the current basis columns.
func (t *Tableau) refactorize() error {
	basis := make([]float64, t.m*t.m)
	for j, v := range t.basic {
		for i := 0; i < t.m; i++ {
			basis[i*t.m+j] = t.columns[v][i]
		}
	}
	if err := t.factors.Factorize(basis); err != nil {
		return errors.Wrap(err, "factorizing basis")
	}
	return nil
}

func (t *Tableau) N() int { return t.n }
func (t *Tableau) M() int { return t.m }

func (t *Tableau) RightHandSide() []float64 { return t.b }

func (t *Tableau) BasicIndexToVariable(i int) int { return t.basic[i] }

func (t *Tableau) NonBasicIndexToVariable(j int) int { return t.nonBasic[j] }

func (t *Tableau) AColumn(v int) []float64 { return t.columns[v] }

func (t *Tableau) SparseAColumn(v int) *solver.SparseUnsortedList {
	return solver.NewSparseFromDense(t.columns[v])
}

func (t *Tableau) SparseARow(r int) *solver.SparseUnsortedList {
	row := make([]float64, t.n)
	for v := 0; v < t.n; v++ {
		row[v] = t.columns[v][r]
	}
	return solver.NewSparseFromDense(row)
}

func (t *Tableau) ForwardTransformation(y, x []float64) error {
	return t.factors.ForwardTransformation(y, x)
}

func (t *Tableau) InverseBasisMatrix() ([]float64, error) {
	out := make([]float64, t.m*t.m)
	if err := t.factors.InvertBasis(out); err != nil {
		return nil, errors.Wrap(err, "inverting basis")
	}
	return out, nil
}

func (t *Tableau) PivotRow() *solver.TableauRow { return t.pivot }

func (t *Tableau) BoundManager() *solver.BoundManager { return t.bm }
