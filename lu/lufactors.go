// Package lu maintains a dense LU factorization of a square basis matrix,
// in the permuted form used by simplex-style solvers:
//
//	A = F·V, with F = P·L·Pᵀ and V = P·U·Qᵀ
//
// where P and Q are permutation matrices, L is lower triangular with a unit
// diagonal and U is upper triangular. The factors support forward and
// backward transformations (FTRAN/BTRAN) through A without ever forming A
// itself, as well as explicit basis inversion.
package lu

import (
	"github.com/pkg/errors"

	"github.com/nnverify/plinth/floats"
)

// ErrDegeneratePivot signals a division by an exact-zero pivot. The factors
// are stale or the basis is singular; the caller must refactorize.
var ErrDegeneratePivot = errors.New("lu: degenerate pivot, refactorization required")

// LUFactors holds the factors of an m×m basis matrix. All buffers are
// allocated at construction; transformations never allocate.
type LUFactors struct {
	m int
	f []float64 // F = P·L·Pᵀ, row-major m×m
	v []float64 // V = P·U·Qᵀ, row-major m×m
	p *Permutation
	q *Permutation

	// Scratch buffers for the composite transformations and inversion.
	z []float64
	e []float64
}

// New returns LU factors of dimension m, initialized to the identity basis.
func New(m int) *LUFactors {
	lu := &LUFactors{
		m: m,
		f: make([]float64, m*m),
		v: make([]float64, m*m),
		p: NewPermutation(m),
		q: NewPermutation(m),
		z: make([]float64, m),
		e: make([]float64, m),
	}
	for i := 0; i < m; i++ {
		lu.f[i*m+i] = 1
		lu.v[i*m+i] = 1
	}
	return lu
}

// Dim returns the dimension of the factored basis.
func (lu *LUFactors) Dim() int {
	return lu.m
}

// P returns the row permutation.
func (lu *LUFactors) P() *Permutation {
	return lu.p
}

// Q returns the column permutation.
func (lu *LUFactors) Q() *Permutation {
	return lu.q
}

// SetFactors overwrites F and V with the given row-major matrices.
// The permutations are left untouched; callers adjust them separately.
func (lu *LUFactors) SetFactors(f, v []float64) {
	copy(lu.f, f)
	copy(lu.v, v)
}

// Factorize computes fresh factors of the dense row-major matrix a, using
// Gaussian elimination with partial row pivoting. Q is left as the identity.
// A zero pivot column means the basis is singular and ErrDegeneratePivot is
// returned; the factors are unusable in that case.
func (lu *LUFactors) Factorize(a []float64) error {
	m := lu.m
	lu.p.ResetToIdentity()
	lu.q.ResetToIdentity()

	// Work on a copy of a; u becomes U and l accumulates the multipliers,
	// both indexed in elimination (permuted) order.
	u := make([]float64, m*m)
	l := make([]float64, m*m)
	copy(u, a)
	// perm[i] is the original row sitting at elimination position i.
	perm := make([]int, m)
	for i := range perm {
		perm[i] = i
		l[i*m+i] = 1
	}

	for k := 0; k < m; k++ {
		// Partial pivoting: pick the largest magnitude in column k.
		pivotRow := k
		pivotVal := floats.Abs(u[k*m+k])
		for i := k + 1; i < m; i++ {
			if abs := floats.Abs(u[i*m+k]); abs > pivotVal {
				pivotVal = abs
				pivotRow = i
			}
		}
		if pivotVal == 0 {
			return ErrDegeneratePivot
		}
		if pivotRow != k {
			for j := 0; j < m; j++ {
				u[k*m+j], u[pivotRow*m+j] = u[pivotRow*m+j], u[k*m+j]
			}
			for j := 0; j < k; j++ {
				l[k*m+j], l[pivotRow*m+j] = l[pivotRow*m+j], l[k*m+j]
			}
			perm[k], perm[pivotRow] = perm[pivotRow], perm[k]
		}
		pivot := u[k*m+k]
		for i := k + 1; i < m; i++ {
			factor := u[i*m+k] / pivot
			l[i*m+k] = factor
			u[i*m+k] = 0
			for j := k + 1; j < m; j++ {
				u[i*m+j] -= factor * u[k*m+j]
			}
		}
	}

	// perm maps elimination positions to original rows, which is exactly
	// the inverse of P's row ordering.
	for i := 0; i < m; i++ {
		lu.p.columnOrdering[i] = perm[i]
		lu.p.rowOrdering[perm[i]] = i
	}

	// Scatter L and U into F = P·L·Pᵀ and V = P·U (Q is the identity).
	for i := 0; i < m; i++ {
		fRow := lu.p.columnOrdering[i]
		for j := 0; j < m; j++ {
			lu.f[fRow*lu.m+lu.p.columnOrdering[j]] = l[i*m+j]
			lu.v[fRow*lu.m+j] = u[i*m+j]
		}
	}
	return nil
}

// FForwardTransformation solves F·x = y. F is a row- and column-permuted
// unit lower triangular matrix, so this is forward substitution following
// the ordering encoded in P; no divisions take place.
func (lu *LUFactors) FForwardTransformation(y, x []float64) {
	m := lu.m
	copy(x, y)
	for lCol := 0; lCol < m; lCol++ {
		fCol := lu.p.columnOrdering[lCol]
		if floats.IsZero(x[fCol]) {
			x[fCol] = 0
			continue
		}
		for lRow := lCol + 1; lRow < m; lRow++ {
			fRow := lu.p.columnOrdering[lRow]
			x[fRow] -= x[fCol] * lu.f[fRow*m+fCol]
		}
	}
}

// FBackwardTransformation solves xᵀ·F = yᵀ by backward substitution in the
// ordering encoded in P.
func (lu *LUFactors) FBackwardTransformation(y, x []float64) {
	m := lu.m
	copy(x, y)
	for lRow := m - 1; lRow >= 0; lRow-- {
		fRow := lu.p.columnOrdering[lRow]
		if floats.IsZero(x[fRow]) {
			x[fRow] = 0
			continue
		}
		for lCol := lRow - 1; lCol >= 0; lCol-- {
			fCol := lu.p.columnOrdering[lCol]
			x[fCol] -= x[fRow] * lu.f[fRow*m+fCol]
		}
	}
}

// VForwardTransformation solves V·x = y. V is a permuted upper triangular
// matrix; substitution runs from the last U row to the first, dividing by
// the diagonal pivots.
func (lu *LUFactors) VForwardTransformation(y, x []float64) error {
	m := lu.m
	for uRow := m - 1; uRow >= 0; uRow-- {
		xIndex := lu.q.columnOrdering[uRow]
		yIndex := lu.p.columnOrdering[uRow]
		sum := y[yIndex]
		for uCol := uRow + 1; uCol < m; uCol++ {
			sum -= lu.v[yIndex*m+lu.q.columnOrdering[uCol]] * x[lu.q.columnOrdering[uCol]]
		}
		pivot := lu.v[yIndex*m+xIndex]
		if pivot == 0 {
			return ErrDegeneratePivot
		}
		x[xIndex] = sum / pivot
	}
	return nil
}

// VBackwardTransformation solves xᵀ·V = yᵀ, running from the first U column
// to the last.
func (lu *LUFactors) VBackwardTransformation(y, x []float64) error {
	m := lu.m
	for uCol := 0; uCol < m; uCol++ {
		xIndex := lu.p.columnOrdering[uCol]
		yIndex := lu.q.columnOrdering[uCol]
		sum := y[yIndex]
		for uRow := 0; uRow < uCol; uRow++ {
			sum -= lu.v[lu.p.columnOrdering[uRow]*m+yIndex] * x[lu.p.columnOrdering[uRow]]
		}
		pivot := lu.v[xIndex*m+yIndex]
		if pivot == 0 {
			return ErrDegeneratePivot
		}
		x[xIndex] = sum / pivot
	}
	return nil
}

// ForwardTransformation solves A·x = y for A = F·V, by an F-solve followed
// by a V-solve.
func (lu *LUFactors) ForwardTransformation(y, x []float64) error {
	lu.FForwardTransformation(y, lu.z)
	return lu.VForwardTransformation(lu.z, x)
}

// BackwardTransformation solves xᵀ·A = yᵀ for A = F·V, by a V-solve followed
// by an F-solve.
func (lu *LUFactors) BackwardTransformation(y, x []float64) error {
	if err := lu.VBackwardTransformation(y, lu.z); err != nil {
		return err
	}
	lu.FBackwardTransformation(lu.z, x)
	return nil
}

// InvertBasis fills the row-major m×m matrix out with A⁻¹. Row i of the
// inverse solves xᵀ·A = eᵢᵀ, so the inversion is m backward transformations
// over the unit basis.
func (lu *LUFactors) InvertBasis(out []float64) error {
	m := lu.m
	for i := range lu.e {
		lu.e[i] = 0
	}
	for i := 0; i < m; i++ {
		lu.e[i] = 1
		if err := lu.BackwardTransformation(lu.e, out[i*m:(i+1)*m]); err != nil {
			return err
		}
		lu.e[i] = 0
	}
	return nil
}
