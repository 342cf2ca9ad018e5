package solver

import (
	"github.com/nnverify/plinth/certificate"
	"github.com/nnverify/plinth/lu"
)

// mockTableau is a dense tableau over a small constraint matrix, with the
// basis factorized through lu.LUFactors.
type mockTableau struct {
	n, m     int
	columns  [][]float64 // columns[v] has m entries
	b        []float64
	basic    []int
	nonBasic []int
	bm       *BoundManager
	factors  *lu.LUFactors
	pivot    *TableauRow
}

// newMockTableau builds a tableau for A·x = b with the given basic columns.
func newMockTableau(columns [][]float64, b []float64, basic []int, bm *BoundManager) *mockTableau {
	m := len(b)
	n := len(columns)
	t := &mockTableau{n: n, m: m, columns: columns, b: b, basic: basic, bm: bm}

	isBasic := make(map[int]bool, m)
	for _, v := range basic {
		isBasic[v] = true
	}
	for v := 0; v < n; v++ {
		if !isBasic[v] {
			t.nonBasic = append(t.nonBasic, v)
		}
	}

	basis := make([]float64, m*m)
	for j, v := range basic {
		for i := 0; i < m; i++ {
			basis[i*m+j] = columns[v][i]
		}
	}
	t.factors = lu.New(m)
	if err := t.factors.Factorize(basis); err != nil {
		panic(err)
	}
	return t
}

func (t *mockTableau) N() int { return t.n }
func (t *mockTableau) M() int { return t.m }

func (t *mockTableau) RightHandSide() []float64 { return t.b }
func (t *mockTableau) AColumn(v int) []float64  { return t.columns[v] }

func (t *mockTableau) BasicIndexToVariable(i int) int    { return t.basic[i] }
func (t *mockTableau) NonBasicIndexToVariable(j int) int { return t.nonBasic[j] }

func (t *mockTableau) SparseAColumn(v int) *SparseUnsortedList {
	return NewSparseFromDense(t.columns[v])
}

func (t *mockTableau) SparseARow(r int) *SparseUnsortedList {
	row := make([]float64, t.n)
	for v := 0; v < t.n; v++ {
		row[v] = t.columns[v][r]
	}
	return NewSparseFromDense(row)
}

func (t *mockTableau) ForwardTransformation(y, x []float64) error {
	return t.factors.ForwardTransformation(y, x)
}

func (t *mockTableau) InverseBasisMatrix() ([]float64, error) {
	out := make([]float64, t.m*t.m)
	if err := t.factors.InvertBasis(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *mockTableau) PivotRow() *TableauRow       { return t.pivot }
func (t *mockTableau) BoundManager() *BoundManager { return t.bm }

// mockEngine is an in-memory engine over a bound manager and a constraint
// list, recording the hook calls the core makes.
type mockEngine struct {
	ctx         *Context
	bm          *BoundManager
	constraints []PiecewiseLinearConstraint

	snc    bool
	proofs bool
	tree   *certificate.Tree
	ptr    certificate.NodeID

	// PickSplitPLConstraint returns picked; nil makes the heuristic abstain.
	picked PiecewiseLinearConstraint

	prePushes, postPops int
	explainCalls        int
	appliedTightenings  int
	appliedValidSplits  int
}

type mockEngineState struct {
	lower, upper []float64
	active       []bool
	level        StorageLevel
	stateID      uint64
}

func newMockEngine(numVars int) *mockEngine {
	ctx := NewContext()
	bm := NewBoundManager(ctx)
	bm.Initialize(numVars)
	return &mockEngine{ctx: ctx, bm: bm, ptr: certificate.None}
}

func (e *mockEngine) enableProofs() {
	e.proofs = true
	e.tree = certificate.NewTree()
	e.ptr = e.tree.Root()
}

func (e *mockEngine) addConstraint(c PiecewiseLinearConstraint) {
	c.RegisterBoundManager(e.bm)
	e.constraints = append(e.constraints, c)
}

func (e *mockEngine) ApplySplit(split PiecewiseLinearCaseSplit) {
	for _, t := range split.BoundTightenings() {
		if t.Kind == LB {
			e.bm.SetLowerBound(t.Variable, t.Value)
		} else {
			e.bm.SetUpperBound(t.Variable, t.Value)
		}
	}
}

func (e *mockEngine) StoreState(level StorageLevel) EngineState {
	s := &mockEngineState{level: level}
	s.lower = append(s.lower, e.bm.lower...)
	s.upper = append(s.upper, e.bm.upper...)
	for _, c := range e.constraints {
		s.active = append(s.active, c.IsActive())
	}
	return s
}

func (e *mockEngine) RestoreState(state EngineState) {
	s := state.(*mockEngineState)
	copy(e.bm.lower, s.lower)
	copy(e.bm.upper, s.upper)
	for i, c := range e.constraints {
		c.SetActiveConstraint(s.active[i])
	}
}

func (e *mockEngine) PreContextPushHook() { e.prePushes++ }
func (e *mockEngine) PostContextPopHook() { e.postPops++ }

func (e *mockEngine) ConsistentBounds() bool { return e.bm.ConsistentBounds() }

func (e *mockEngine) ApplyAllBoundTightenings() {
	e.appliedTightenings += len(e.bm.Tightenings())
}

func (e *mockEngine) ApplyAllValidConstraintCaseSplits() {
	for _, c := range e.constraints {
		if !c.IsActive() {
			continue
		}
		if split, ok := c.ValidCaseSplit(); ok {
			c.SetActiveConstraint(false)
			e.ApplySplit(split)
			e.appliedValidSplits++
		}
	}
}

func (e *mockEngine) PickSplitPLConstraint(BranchingHeuristic) PiecewiseLinearConstraint {
	return e.picked
}

func (e *mockEngine) Context() *Context { return e.ctx }
func (e *mockEngine) InSnCMode() bool   { return e.snc }

func (e *mockEngine) ShouldProduceProofs() bool { return e.proofs }

func (e *mockEngine) Certificate() *certificate.Tree         { return e.tree }
func (e *mockEngine) CertificatePointer() certificate.NodeID { return e.ptr }

func (e *mockEngine) SetCertificatePointer(id certificate.NodeID) { e.ptr = id }

func (e *mockEngine) ExplainSimplexFailure() {
	e.explainCalls++
	if e.tree != nil && e.ptr != certificate.None {
		e.tree.MarkContradiction(e.ptr)
	}
}
