package solver

import "github.com/nnverify/plinth/certificate"

// StorageLevel selects how much engine state a snapshot captures.
type StorageLevel byte

const (
	// StoreBoundsOnly snapshots just the bound-related state.
	StoreBoundsOnly = StorageLevel(iota)
	// StoreEntireTableauState snapshots the full tableau as well.
	StoreEntireTableauState
)

// An EngineState is an opaque snapshot produced by Engine.StoreState and
// consumed by Engine.RestoreState. The core never looks inside it.
type EngineState interface{}

// Engine is the narrow contract the core consumes from the engine. The
// engine owns the SmtCore; the core only borrows this reference.
type Engine interface {
	// ApplySplit applies a case split's bound tightenings.
	ApplySplit(split PiecewiseLinearCaseSplit)
	// StoreState snapshots the engine at the given granularity.
	StoreState(level StorageLevel) EngineState
	// RestoreState restores a snapshot taken by StoreState.
	RestoreState(state EngineState)
	// PreContextPushHook runs immediately before every context push.
	PreContextPushHook()
	// PostContextPopHook runs immediately after every context pop.
	PostContextPopHook()
	// ConsistentBounds reports whether all variable bounds are consistent.
	ConsistentBounds() bool
	// ApplyAllBoundTightenings flushes pending bound tightenings.
	ApplyAllBoundTightenings()
	// ApplyAllValidConstraintCaseSplits applies splits that became implied.
	ApplyAllValidConstraintCaseSplits()
	// PickSplitPLConstraint picks a constraint to split on, or nil to let
	// the core fall back to its native heuristic.
	PickSplitPLConstraint(strategy BranchingHeuristic) PiecewiseLinearConstraint
	// Context returns the context coordinating scoped state.
	Context() *Context
	// InSnCMode reports whether the engine runs under split-and-conquer,
	// where the stack-depth/context-level invariant is relaxed.
	InSnCMode() bool

	// Proof hooks. Certificate returns nil when proofs are off.
	ShouldProduceProofs() bool
	Certificate() *certificate.Tree
	CertificatePointer() certificate.NodeID
	SetCertificatePointer(id certificate.NodeID)
	// ExplainSimplexFailure records the proof of the current dead end.
	ExplainSimplexFailure()
}

// Tableau is the read-only view of the simplex tableau the tightener
// consumes.
type Tableau interface {
	// N returns the total number of variables.
	N() int
	// M returns the number of equations (basic variables).
	M() int
	// RightHandSide returns the vector b of Ax = b.
	RightHandSide() []float64
	// BasicIndexToVariable maps a basic row index to a variable.
	BasicIndexToVariable(i int) int
	// NonBasicIndexToVariable maps a non-basic column index to a variable.
	NonBasicIndexToVariable(j int) int
	// AColumn returns the dense column of A for the given variable.
	AColumn(v int) []float64
	// SparseAColumn returns the sparse column of A for the given variable.
	SparseAColumn(v int) *SparseUnsortedList
	// SparseARow returns the sparse row r of A.
	SparseARow(r int) *SparseUnsortedList
	// ForwardTransformation solves B·x = y through the basis factorization.
	ForwardTransformation(y, x []float64) error
	// InverseBasisMatrix returns a freshly allocated row-major m×m inverse
	// of the basis matrix.
	InverseBasisMatrix() ([]float64, error)
	// PivotRow returns the most recent pivot row, or nil if none.
	PivotRow() *TableauRow
	// BoundManager returns the bound store shared with the engine.
	BoundManager() *BoundManager
}
