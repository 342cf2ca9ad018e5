package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/plinth/floats"
)

func TestBoundManagerInitialize(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(5)
	assert.Equal(t, 5, bm.NumberOfVariables())
	for v := 0; v < 5; v++ {
		assert.True(t, math.IsInf(bm.LowerBound(v), -1))
		assert.True(t, math.IsInf(bm.UpperBound(v), 1))
	}

	v := bm.RegisterNewVariable()
	assert.Equal(t, 5, v)
	assert.Equal(t, 6, bm.NumberOfVariables())
}

func TestBoundManagerMonotoneUpdates(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(2)

	assert.True(t, bm.SetLowerBound(0, 1))
	assert.True(t, bm.SetUpperBound(0, 5))

	// Weaker or equal bounds are no-ops and emit no tightening.
	bm.Tightenings()
	assert.False(t, bm.SetLowerBound(0, 0.5))
	assert.False(t, bm.SetLowerBound(0, 1))
	assert.False(t, bm.SetUpperBound(0, 7))
	assert.Empty(t, bm.Tightenings())

	assert.True(t, bm.SetLowerBound(0, 2))
	got := bm.Tightenings()
	require.Len(t, got, 1)
	assert.Equal(t, Tightening{Variable: 0, Value: 2, Kind: LB}, got[0])
	assert.Empty(t, bm.Tightenings(), "drain should clear the log")
}

func TestBoundManagerPushPop(t *testing.T) {
	ctx := NewContext()
	bm := NewBoundManager(ctx)
	bm.Initialize(5)

	ctx.Push()
	level0 := [][2]float64{{0, 10}, {-5, 5}, {1, 2}, {-1, 1}, {0, 0}}
	for v, b := range level0 {
		bm.SetLowerBound(v, b[0])
		bm.SetUpperBound(v, b[1])
	}

	ctx.Push()
	bm.SetLowerBound(0, 2)
	bm.SetUpperBound(1, 3)
	level1 := [][2]float64{{2, 10}, {-5, 3}, {1, 2}, {-1, 1}, {0, 0}}

	ctx.Push()
	bm.SetLowerBound(0, 4)
	bm.SetUpperBound(3, 0.5)

	check := func(want [][2]float64) {
		t.Helper()
		for v, b := range want {
			assert.Equal(t, b[0], bm.LowerBound(v), "lower of x%d", v)
			assert.Equal(t, b[1], bm.UpperBound(v), "upper of x%d", v)
		}
	}

	ctx.Pop()
	check(level1)
	ctx.Pop()
	check(level0)
	ctx.Pop()
	for v := 0; v < 5; v++ {
		assert.True(t, math.IsInf(bm.LowerBound(v), -1))
		assert.True(t, math.IsInf(bm.UpperBound(v), 1))
	}
}

func TestBoundManagerConsistency(t *testing.T) {
	ctx := NewContext()
	bm := NewBoundManager(ctx)
	bm.Initialize(3)

	assert.True(t, bm.ConsistentBounds())
	assert.Equal(t, -1, bm.InconsistentVariable())

	ctx.Push()
	bm.SetLowerBound(1, 2)
	bm.SetUpperBound(1, 1)
	assert.False(t, bm.ConsistentBounds())
	assert.False(t, bm.ConsistentBoundsFor(1))
	assert.Equal(t, 1, bm.InconsistentVariable())

	// Restoring the offending bounds clears the flag.
	ctx.Pop()
	assert.True(t, bm.ConsistentBounds())
	assert.Equal(t, -1, bm.InconsistentVariable())
}

func TestComputeRowBound(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(3)
	bm.SetLowerBound(1, 0)
	bm.SetUpperBound(1, 5)
	bm.SetLowerBound(2, -1)
	bm.SetUpperBound(2, 4)

	// y = 3 + 2*x1 - x2
	row := NewTableauRow(2)
	row.Lhs = 0
	row.Scalar = 3
	row.Row[0] = RowEntry{Var: 1, Coefficient: 2}
	row.Row[1] = RowEntry{Var: 2, Coefficient: -1}

	assert.InDelta(t, -1, bm.ComputeRowBound(row, LB), 1e-12)
	assert.InDelta(t, 14, bm.ComputeRowBound(row, UB), 1e-12)
}

func TestComputeRowBoundSkipsZeroCoefficients(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(2)

	// x1 is unbounded, but its coefficient is zero so it contributes nothing.
	row := NewTableauRow(2)
	row.Scalar = 7
	row.Row[0] = RowEntry{Var: 1, Coefficient: 0}
	row.Row[1] = RowEntry{Var: 0, Coefficient: 1}
	bm.SetLowerBound(0, -2)
	bm.SetUpperBound(0, 2)

	assert.InDelta(t, 5, bm.ComputeRowBound(row, LB), 1e-12)
	assert.InDelta(t, 9, bm.ComputeRowBound(row, UB), 1e-12)
}

func TestComputeSparseRowBound(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(3)
	bm.SetLowerBound(0, 0)
	bm.SetUpperBound(0, 1)
	bm.SetLowerBound(1, 2)
	bm.SetUpperBound(1, 3)

	// x0 + 2*x1 - x2 = 0, so x2 = x0 + 2*x1 in [4, 7].
	row := NewSparseFromDense([]float64{1, 2, -1})
	assert.InDelta(t, 4, bm.ComputeSparseRowBound(row, LB, 2), 1e-12)
	assert.InDelta(t, 7, bm.ComputeSparseRowBound(row, UB, 2), 1e-12)

	assert.Panics(t, func() {
		absent := NewSparseFromDense([]float64{1, 0, 0})
		bm.ComputeSparseRowBound(absent, LB, 2)
	})
}

func TestBoundManagerRejectsNaN(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(2)
	bm.SetLowerBound(0, -1)
	bm.SetUpperBound(0, 1)

	// Row rearrangement over unbounded variables can produce -inf + inf.
	// The resulting NaN must never enter the bound store.
	assert.False(t, bm.SetLowerBound(0, math.NaN()))
	assert.False(t, bm.SetUpperBound(0, math.NaN()))
	assert.False(t, bm.SetLowerBound(1, math.NaN()), "even against -inf")
	assert.False(t, bm.SetUpperBound(1, math.NaN()))

	assert.Equal(t, -1.0, bm.LowerBound(0))
	assert.Equal(t, 1.0, bm.UpperBound(0))
	assert.Empty(t, bm.Tightenings())
	assert.True(t, bm.ConsistentBounds())
}

func TestBoundManagerInfinities(t *testing.T) {
	bm := NewBoundManager(nil)
	bm.Initialize(1)
	assert.True(t, bm.SetUpperBound(0, floats.Infinity()) == false,
		"re-registering +inf must be a no-op")
	assert.True(t, bm.SetLowerBound(0, 0))
	assert.True(t, bm.ConsistentBounds())
}
