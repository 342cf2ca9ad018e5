package solver

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nnverify/plinth/floats"
)

// Coefficient sign classes, cached per row entry.
const (
	signZero int8 = iota
	signPositive
	signNegative
)

// A RowBoundTightener deduces tighter variable bounds from linear rows and
// registers them with the bound manager. Rows can come from an explicitly
// inverted basis matrix, from forward transformations through the tableau's
// factorization, from the original constraint matrix, or from the latest
// pivot row.
//
// All working buffers are sized by SetDimensions and reused across passes.
type RowBoundTightener struct {
	tableau Tableau
	bm      *BoundManager
	cfg     Config
	logger  logrus.FieldLogger
	stats   *Statistics

	n, m int

	rows      []*TableauRow
	z         []float64
	ciTimesLb []float64
	ciTimesUb []float64
	ciSign    []int8
}

// NewRowBoundTightener returns a tightener over the given tableau view.
// A nil logger disables logging.
func NewRowBoundTightener(tableau Tableau, cfg Config, logger logrus.FieldLogger) *RowBoundTightener {
	return &RowBoundTightener{
		tableau: tableau,
		bm:      tableau.BoundManager(),
		cfg:     cfg,
		logger:  logger,
	}
}

// SetStatistics attaches a statistics sink.
func (rt *RowBoundTightener) SetStatistics(stats *Statistics) {
	rt.stats = stats
}

// SetDimensions sizes the working buffers to the tableau's current
// dimensions. Must be called before any examine pass, and again whenever
// the tableau is resized.
func (rt *RowBoundTightener) SetDimensions() {
	rt.n = rt.tableau.N()
	rt.m = rt.tableau.M()

	rt.rows = make([]*TableauRow, rt.m)
	for i := 0; i < rt.m; i++ {
		rt.rows[i] = NewTableauRow(rt.n - rt.m)
	}
	rt.z = make([]float64, rt.m)
	rt.ciTimesLb = make([]float64, rt.n)
	rt.ciTimesUb = make([]float64, rt.n)
	rt.ciSign = make([]int8, rt.n)
}

// ExamineBasisMatrix runs the strategy selected by the configuration.
func (rt *RowBoundTightener) ExamineBasisMatrix(untilSaturation bool) error {
	if rt.cfg.BoundTighteningType == UseImplicitInvertedBasisMatrix {
		return rt.ExamineImplicitInvertedBasisMatrix(untilSaturation)
	}
	return rt.ExamineInvertedBasisMatrix(untilSaturation)
}

// ExamineImplicitInvertedBasisMatrix builds the inverted basis rows
//
//	xB = inv(B)·b − inv(B)·AN·xN
//
// through m+1 forward transformations (one for b, one per non-basic
// column), then runs the tightening pass.
func (rt *RowBoundTightener) ExamineImplicitInvertedBasisMatrix(untilSaturation bool) error {
	// z = inv(B)·b, by solving the forward transformation B·z = b.
	if err := rt.tableau.ForwardTransformation(rt.tableau.RightHandSide(), rt.z); err != nil {
		return errors.Wrap(err, "implicit inverted basis")
	}
	for i := 0; i < rt.m; i++ {
		rt.rows[i].Scalar = rt.z[i]
		rt.rows[i].Lhs = rt.tableau.BasicIndexToVariable(i)
	}

	// One FTRAN per column of AN populates the rows' coefficients.
	for j := 0; j < rt.n-rt.m; j++ {
		nonBasic := rt.tableau.NonBasicIndexToVariable(j)
		if err := rt.tableau.ForwardTransformation(rt.tableau.AColumn(nonBasic), rt.z); err != nil {
			return errors.Wrap(err, "implicit inverted basis")
		}
		for i := 0; i < rt.m; i++ {
			rt.rows[i].Row[j].Var = nonBasic
			rt.rows[i].Row[j].Coefficient = -rt.z[i]
		}
	}

	return rt.tightenUntilSaturation(untilSaturation)
}

// ExamineInvertedBasisMatrix requests the explicit inverse of the basis
// matrix from the tableau, builds every inverted basis row from it, then
// runs the tightening pass.
func (rt *RowBoundTightener) ExamineInvertedBasisMatrix(untilSaturation bool) error {
	b := rt.tableau.RightHandSide()
	invB, err := rt.tableau.InverseBasisMatrix()
	if err != nil {
		return errors.Wrap(err, "inverted basis")
	}

	for i := 0; i < rt.m; i++ {
		row := rt.rows[i]

		// scalar = row i of inv(B), dotted with b.
		row.Scalar = 0
		for j := 0; j < rt.m; j++ {
			row.Scalar += invB[i*rt.m+j] * b[j]
		}

		for j := 0; j < rt.n-rt.m; j++ {
			row.Row[j].Var = rt.tableau.NonBasicIndexToVariable(j)

			// Dot product of row i of inv(B) with the matching column of AN.
			column := rt.tableau.SparseAColumn(row.Row[j].Var)
			row.Row[j].Coefficient = 0
			for _, entry := range column.Entries() {
				row.Row[j].Coefficient -= invB[i*rt.m+entry.Index] * entry.Value
			}
		}

		row.Lhs = rt.tableau.BasicIndexToVariable(i)
	}

	return rt.tightenUntilSaturation(untilSaturation)
}

func (rt *RowBoundTightener) tightenUntilSaturation(untilSaturation bool) error {
	maxIterations := 1
	if untilSaturation {
		maxIterations = rt.cfg.SaturationIterations
	}
	for {
		newBounds, err := rt.onePassOverInvertedBasisRows()
		if err != nil {
			return err
		}
		if rt.stats != nil && newBounds > 0 {
			rt.stats.NumTighteningsFromExplicitBasis += uint64(newBounds)
		}
		maxIterations--
		if maxIterations == 0 || newBounds == 0 {
			return nil
		}
	}
}

func (rt *RowBoundTightener) onePassOverInvertedBasisRows() (int, error) {
	newBounds := 0
	for i := 0; i < rt.m; i++ {
		n, err := rt.tightenOnSingleInvertedBasisRow(rt.rows[i])
		newBounds += n
		if err != nil {
			return newBounds, err
		}
	}
	return newBounds, nil
}

// tightenOnSingleInvertedBasisRow propagates bounds through one row
//
//	y = scalar + Σ cᵢ·xᵢ
//
// tightening once for y and once for every xᵢ with a usable coefficient.
func (rt *RowBoundTightener) tightenOnSingleInvertedBasisRow(row *TableauRow) (int, error) {
	width := len(row.Row)
	result := 0
	epsilon := rt.cfg.BoundTighteningRoundingConstant

	// Cache cᵢ·lb, cᵢ·ub and the sign class of every entry.
	for i := 0; i < width; i++ {
		ci := row.Row[i].Coefficient
		if floats.IsZero(ci) {
			rt.ciSign[i] = signZero
			rt.ciTimesLb[i] = 0
			rt.ciTimesUb[i] = 0
			continue
		}
		if floats.IsPositive(ci) {
			rt.ciSign[i] = signPositive
		} else {
			rt.ciSign[i] = signNegative
		}
		xi := row.Row[i].Var
		rt.ciTimesLb[i] = ci * rt.bm.LowerBound(xi)
		rt.ciTimesUb[i] = ci * rt.bm.UpperBound(xi)
	}

	// First, a pass for y itself.
	y := row.Lhs
	lowerBound := row.Scalar
	upperBound := row.Scalar
	for i := 0; i < width; i++ {
		if rt.ciSign[i] == signPositive {
			lowerBound += rt.ciTimesLb[i]
			upperBound += rt.ciTimesUb[i]
		} else {
			lowerBound += rt.ciTimesUb[i]
			upperBound += rt.ciTimesLb[i]
		}
	}
	result += rt.registerTighterLowerBound(y, lowerBound-epsilon)
	result += rt.registerTighterUpperBound(y, upperBound+epsilon)
	if floats.Gt(rt.bm.LowerBound(y), rt.bm.UpperBound(y)) {
		return result, ErrInfeasible
	}

	// Next, a pass for each xᵢ. Rearranged, the row reads
	//
	//	xᵢ = (y − scalar − Σ_{j≠i} cⱼ·xⱼ) / cᵢ
	//
	// For efficiency we bound the aggregate y − Σ cᵢ·xᵢ − scalar once, and
	// peel each xᵢ back out of it before dividing.
	auxLb := rt.bm.LowerBound(y) - row.Scalar
	auxUb := rt.bm.UpperBound(y) - row.Scalar
	for i := 0; i < width; i++ {
		if rt.ciSign[i] == signNegative {
			auxLb -= rt.ciTimesLb[i]
			auxUb -= rt.ciTimesUb[i]
		} else {
			auxLb -= rt.ciTimesUb[i]
			auxUb -= rt.ciTimesLb[i]
		}
	}

	for i := 0; i < width; i++ {
		ci := row.Row[i].Coefficient
		if rt.ciSign[i] == signZero ||
			floats.Lt(floats.Abs(ci), rt.cfg.MinimalCoefficientForTightening) {
			continue
		}

		lowerBound = auxLb
		upperBound = auxUb

		// Remove xᵢ from the aggregate.
		if rt.ciSign[i] == signNegative {
			lowerBound += rt.ciTimesLb[i]
			upperBound += rt.ciTimesUb[i]
		} else {
			lowerBound += rt.ciTimesUb[i]
			upperBound += rt.ciTimesLb[i]
		}

		// Divide by cᵢ, swapping the roles of the bounds for negative cᵢ.
		lowerBound /= ci
		upperBound /= ci
		if rt.ciSign[i] == signNegative {
			lowerBound, upperBound = upperBound, lowerBound
		}

		xi := row.Row[i].Var
		result += rt.registerTighterLowerBound(xi, lowerBound-epsilon)
		result += rt.registerTighterUpperBound(xi, upperBound+epsilon)
		if floats.Gt(rt.bm.LowerBound(xi), rt.bm.UpperBound(xi)) {
			return result, ErrInfeasible
		}
	}

	return result, nil
}

// ExamineConstraintMatrix iterates over the sparse rows of the original
// constraint matrix A (not the inverted basis), running the same
// propagation loop on each. A single pass unless untilSaturation.
func (rt *RowBoundTightener) ExamineConstraintMatrix(untilSaturation bool) error {
	maxIterations := 1
	if untilSaturation {
		maxIterations = rt.cfg.SaturationIterations
	}
	for {
		newBounds, err := rt.onePassOverConstraintMatrix()
		if err != nil {
			return err
		}
		if rt.stats != nil && newBounds > 0 {
			rt.stats.NumTighteningsFromConstraintMatrix += uint64(newBounds)
		}
		maxIterations--
		if maxIterations == 0 || newBounds == 0 {
			return nil
		}
	}
}

func (rt *RowBoundTightener) onePassOverConstraintMatrix() (int, error) {
	result := 0
	for i := 0; i < rt.m; i++ {
		n, err := rt.tightenOnSingleConstraintRow(i)
		result += n
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// tightenOnSingleConstraintRow propagates bounds through row number `row`
// of A, where A·x = b. The row reads Σ cᵢ·xᵢ − b = 0; absent entries are
// zero and skipped.
func (rt *RowBoundTightener) tightenOnSingleConstraintRow(row int) (int, error) {
	result := 0

	sparseRow := rt.tableau.SparseARow(row)
	b := rt.tableau.RightHandSide()

	for i := 0; i < rt.n; i++ {
		rt.ciSign[i] = signZero
		rt.ciTimesLb[i] = 0
		rt.ciTimesUb[i] = 0
	}
	for _, entry := range sparseRow.Entries() {
		ci := entry.Value
		if floats.IsPositive(ci) {
			rt.ciSign[entry.Index] = signPositive
		} else {
			rt.ciSign[entry.Index] = signNegative
		}
		rt.ciTimesLb[entry.Index] = ci * rt.bm.LowerBound(entry.Index)
		rt.ciTimesUb[entry.Index] = ci * rt.bm.UpperBound(entry.Index)
	}

	// Bound the aggregate b − Σ cᵢ·xᵢ once, then peel each xᵢ out of it:
	//
	//	xᵢ = (b − Σ_{j≠i} cⱼ·xⱼ) / cᵢ
	auxLb := b[row]
	auxUb := b[row]
	for i := 0; i < rt.n; i++ {
		if rt.ciSign[i] == signNegative {
			auxLb -= rt.ciTimesLb[i]
			auxUb -= rt.ciTimesUb[i]
		} else {
			auxLb -= rt.ciTimesUb[i]
			auxUb -= rt.ciTimesLb[i]
		}
	}

	for _, entry := range sparseRow.Entries() {
		index := entry.Index

		lowerBound := auxLb
		upperBound := auxUb
		if rt.ciSign[index] == signNegative {
			lowerBound += rt.ciTimesLb[index]
			upperBound += rt.ciTimesUb[index]
		} else {
			lowerBound += rt.ciTimesUb[index]
			upperBound += rt.ciTimesLb[index]
		}

		ci := entry.Value
		if floats.Lt(floats.Abs(ci), rt.cfg.MinimalCoefficientForTightening) {
			continue
		}

		lowerBound /= ci
		upperBound /= ci
		if rt.ciSign[index] == signNegative {
			lowerBound, upperBound = upperBound, lowerBound
		}

		result += rt.registerTighterLowerBound(index, lowerBound)
		result += rt.registerTighterUpperBound(index, upperBound)
		if floats.Gt(rt.bm.LowerBound(index), rt.bm.UpperBound(index)) {
			return result, ErrInfeasible
		}
	}

	return result, nil
}

// ExaminePivotRow tightens on the single most recent pivot row exposed by
// the tableau. A tableau with no pivot row yet is a no-op.
func (rt *RowBoundTightener) ExaminePivotRow() error {
	if rt.stats != nil {
		rt.stats.NumRowsExaminedByRowTightener++
	}
	row := rt.tableau.PivotRow()
	if row == nil {
		return nil
	}
	newBounds, err := rt.tightenOnSingleInvertedBasisRow(row)
	if rt.stats != nil && newBounds > 0 {
		rt.stats.NumTighteningsFromRows += uint64(newBounds)
	}
	if err != nil && rt.logger != nil {
		rt.logger.WithField("lhs", row.Lhs).Debug("pivot row tightening hit infeasibility")
	}
	return err
}

func (rt *RowBoundTightener) registerTighterLowerBound(v int, value float64) int {
	if rt.bm.SetLowerBound(v, value) {
		return 1
	}
	return 0
}

func (rt *RowBoundTightener) registerTighterUpperBound(v int, value float64) int {
	if rt.bm.SetUpperBound(v, value) {
		return 1
	}
	return 0
}
