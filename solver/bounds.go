package solver

import (
	"github.com/nnverify/plinth/floats"
)

// A BoundManager maps every variable to its current lower and upper bound.
// Updates are monotone: an update that does not strictly tighten the bound
// is a no-op. Every effective update is appended to a change log that the
// engine drains through Tightenings.
//
// When registered with a Context, the manager saves its bounds on every push
// and restores them on every pop, so a matched push/pop pair leaves every
// bound exactly equal to its pre-push value.
type BoundManager struct {
	lower []float64
	upper []float64

	tightenings  []Tightening
	inconsistent int // variable with lower > upper, or -1

	savedLower [][]float64
	savedUpper [][]float64
}

// NewBoundManager returns an empty manager. If ctx is non-nil, the manager
// registers itself so that pushes and pops bracket its local bounds.
func NewBoundManager(ctx *Context) *BoundManager {
	b := &BoundManager{inconsistent: -1}
	if ctx != nil {
		ctx.Register(b)
	}
	return b
}

// Initialize creates bounds for numberOfVariables variables, all set to
// (-inf, +inf).
func (b *BoundManager) Initialize(numberOfVariables int) {
	b.lower = make([]float64, numberOfVariables)
	b.upper = make([]float64, numberOfVariables)
	for i := 0; i < numberOfVariables; i++ {
		b.lower[i] = floats.NegativeInfinity()
		b.upper[i] = floats.Infinity()
	}
	b.tightenings = b.tightenings[:0]
	b.inconsistent = -1
}

// RegisterNewVariable adds one unbounded variable and returns its index.
func (b *BoundManager) RegisterNewVariable() int {
	v := len(b.lower)
	b.lower = append(b.lower, floats.NegativeInfinity())
	b.upper = append(b.upper, floats.Infinity())
	return v
}

// NumberOfVariables returns the number of registered variables.
func (b *BoundManager) NumberOfVariables() int {
	return len(b.lower)
}

// LowerBound returns the current lower bound of v.
func (b *BoundManager) LowerBound(v int) float64 {
	return b.lower[v]
}

// UpperBound returns the current upper bound of v.
func (b *BoundManager) UpperBound(v int) float64 {
	return b.upper[v]
}

// SetLowerBound tightens the lower bound of v to value. Returns true iff the
// bound was actually tightened. The update is recorded even if it makes the
// variable's bounds inconsistent; callers detect that via ConsistentBounds.
func (b *BoundManager) SetLowerBound(v int, value float64) bool {
	// Written so that a NaN candidate fails the comparison and is dropped.
	if !(value > b.lower[v]) {
		return false
	}
	b.lower[v] = value
	b.tightenings = append(b.tightenings, Tightening{Variable: v, Value: value, Kind: LB})
	b.checkConsistency(v)
	return true
}

// SetUpperBound tightens the upper bound of v to value. Returns true iff the
// bound was actually tightened.
func (b *BoundManager) SetUpperBound(v int, value float64) bool {
	if !(value < b.upper[v]) {
		return false
	}
	b.upper[v] = value
	b.tightenings = append(b.tightenings, Tightening{Variable: v, Value: value, Kind: UB})
	b.checkConsistency(v)
	return true
}

func (b *BoundManager) checkConsistency(v int) {
	if floats.Gt(b.lower[v], b.upper[v]) {
		b.inconsistent = v
	}
}

// ConsistentBoundsFor reports whether lower(v) <= upper(v).
func (b *BoundManager) ConsistentBoundsFor(v int) bool {
	return !floats.Gt(b.lower[v], b.upper[v])
}

// ConsistentBounds reports whether every variable has lower <= upper.
func (b *BoundManager) ConsistentBounds() bool {
	if b.inconsistent == -1 {
		return true
	}
	// The offending variable may have been fixed by a later restore.
	if b.ConsistentBoundsFor(b.inconsistent) {
		b.inconsistent = -1
		return true
	}
	return false
}

// InconsistentVariable returns the variable whose bounds crossed, or -1.
func (b *BoundManager) InconsistentVariable() int {
	if b.ConsistentBounds() {
		return -1
	}
	return b.inconsistent
}

// Tightenings drains and returns the bounds tightened since the last call.
func (b *BoundManager) Tightenings() []Tightening {
	out := b.tightenings
	b.tightenings = nil
	return out
}

// StoreLocalBounds saves a snapshot of all bounds. Part of the
// ContextDependent contract; called by Context.Push.
func (b *BoundManager) StoreLocalBounds() {
	lower := make([]float64, len(b.lower))
	upper := make([]float64, len(b.upper))
	copy(lower, b.lower)
	copy(upper, b.upper)
	b.savedLower = append(b.savedLower, lower)
	b.savedUpper = append(b.savedUpper, upper)
}

// RestoreLocalBounds restores the most recently stored snapshot. Part of the
// ContextDependent contract; called by Context.Pop.
func (b *BoundManager) RestoreLocalBounds() {
	last := len(b.savedLower) - 1
	copy(b.lower, b.savedLower[last])
	copy(b.upper, b.savedUpper[last])
	b.savedLower = b.savedLower[:last]
	b.savedUpper = b.savedUpper[:last]
	if b.inconsistent != -1 && b.ConsistentBoundsFor(b.inconsistent) {
		b.inconsistent = -1
	}
}

// StoreLocal implements ContextDependent.
func (b *BoundManager) StoreLocal() { b.StoreLocalBounds() }

// RestoreLocal implements ContextDependent.
func (b *BoundManager) RestoreLocal() { b.RestoreLocalBounds() }

// ComputeRowBound evaluates the given bound kind of a tableau row's
// left-hand side under the current bounds.
func (b *BoundManager) ComputeRowBound(row *TableauRow, kind BoundKind) float64 {
	bound := row.Scalar
	for _, e := range row.Row {
		if e.Coefficient == 0 {
			continue
		}
		useUpper := e.Coefficient > 0
		if kind == LB {
			useUpper = !useUpper
		}
		if useUpper {
			bound += e.Coefficient * b.upper[e.Var]
		} else {
			bound += e.Coefficient * b.lower[e.Var]
		}
	}
	return bound
}

// ComputeSparseRowBound evaluates a bound of one variable appearing in a
// sparse homogeneous row Σ cᵢ·xᵢ = 0, by rearranging the row around that
// variable. The variable's coefficient must be non-zero.
func (b *BoundManager) ComputeSparseRowBound(row *SparseUnsortedList, kind BoundKind, variable int) float64 {
	cVar := row.Get(variable)
	if cVar == 0 {
		panic("solver: variable is absent from the row")
	}

	// x = -(Σ_{i≠var} cᵢ·xᵢ) / c. Dividing by a negative c flips which
	// extreme of the sum yields which bound.
	maximizeSum := (kind == UB) == (cVar < 0)
	sum := 0.0
	for _, e := range row.Entries() {
		if e.Index == variable {
			continue
		}
		if (e.Value > 0) == maximizeSum {
			sum += e.Value * b.upper[e.Index]
		} else {
			sum += e.Value * b.lower[e.Index]
		}
	}
	return -sum / cVar
}
