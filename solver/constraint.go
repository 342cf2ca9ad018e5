package solver

import (
	"fmt"

	"github.com/nnverify/plinth/floats"
)

// A PiecewiseLinearConstraint is a disjunction over a small number of linear
// phases. The core only needs the capability set below; concrete variants
// are tagged types, not a deep hierarchy.
type PiecewiseLinearConstraint interface {
	// IsActive reports whether the constraint still participates in the
	// search. Splitting on a constraint deactivates it.
	IsActive() bool
	// SetActiveConstraint toggles participation.
	SetActiveConstraint(active bool)
	// CaseSplits returns the constraint's phases, each as a bounds-only
	// case split. The list is ordered and holds at least two entries.
	CaseSplits() []PiecewiseLinearCaseSplit
	// Variables returns the variables the constraint watches.
	Variables() []int
	// RegisterBoundManager lets the constraint consult current bounds.
	RegisterBoundManager(bm *BoundManager)
	// PhaseFixed reports whether the current bounds determine the phase.
	PhaseFixed() bool
	// ValidCaseSplit returns the split implied by the current bounds, when
	// PhaseFixed holds.
	ValidCaseSplit() (PiecewiseLinearCaseSplit, bool)
	// SatisfiedBy reports whether the assignment satisfies the constraint.
	SatisfiedBy(assignment []float64) bool

	fmt.Stringer
}

// plConstraint carries the state shared by all variants.
type plConstraint struct {
	active bool
	bm     *BoundManager
}

func (c *plConstraint) IsActive() bool {
	return c.active
}

func (c *plConstraint) SetActiveConstraint(active bool) {
	c.active = active
}

func (c *plConstraint) RegisterBoundManager(bm *BoundManager) {
	c.bm = bm
}

func tightening(v int, value float64, kind BoundKind) Tightening {
	return Tightening{Variable: v, Value: value, Kind: kind}
}

// ReLU represents f = max(0, b).
type ReLU struct {
	plConstraint
	b, f int
	aux  int // aux = f - b when the query carries the aux encoding, else -1
}

// NewReLU returns a ReLU constraint over input b and output f.
func NewReLU(b, f int) *ReLU {
	return &ReLU{plConstraint: plConstraint{active: true}, b: b, f: f, aux: -1}
}

// SetAuxVariable attaches the auxiliary variable of the encoding
// f - b = aux, aux >= 0. With it attached the active phase can pin f = b
// through bounds alone.
func (r *ReLU) SetAuxVariable(aux int) {
	r.aux = aux
}

func (r *ReLU) activeSplit() PiecewiseLinearCaseSplit {
	var s PiecewiseLinearCaseSplit
	s.StoreBoundTightening(tightening(r.b, 0, LB))
	if r.aux >= 0 {
		s.StoreBoundTightening(tightening(r.aux, 0, UB))
	}
	return s
}

func (r *ReLU) inactiveSplit() PiecewiseLinearCaseSplit {
	var s PiecewiseLinearCaseSplit
	s.StoreBoundTightening(tightening(r.b, 0, UB))
	s.StoreBoundTightening(tightening(r.f, 0, UB))
	return s
}

// CaseSplits returns the active phase (b >= 0) then the inactive phase
// (b <= 0, f <= 0).
func (r *ReLU) CaseSplits() []PiecewiseLinearCaseSplit {
	return []PiecewiseLinearCaseSplit{r.activeSplit(), r.inactiveSplit()}
}

func (r *ReLU) Variables() []int {
	if r.aux >= 0 {
		return []int{r.b, r.f, r.aux}
	}
	return []int{r.b, r.f}
}

func (r *ReLU) PhaseFixed() bool {
	if r.bm == nil {
		return false
	}
	return floats.Gte(r.bm.LowerBound(r.b), 0) || floats.Lte(r.bm.UpperBound(r.b), 0)
}

func (r *ReLU) ValidCaseSplit() (PiecewiseLinearCaseSplit, bool) {
	if r.bm == nil {
		return PiecewiseLinearCaseSplit{}, false
	}
	if floats.Gte(r.bm.LowerBound(r.b), 0) {
		return r.activeSplit(), true
	}
	if floats.Lte(r.bm.UpperBound(r.b), 0) {
		return r.inactiveSplit(), true
	}
	return PiecewiseLinearCaseSplit{}, false
}

func (r *ReLU) SatisfiedBy(assignment []float64) bool {
	return floats.Equal(assignment[r.f], floats.Max(0, assignment[r.b]))
}

func (r *ReLU) String() string {
	return fmt.Sprintf("relu(b=x%d, f=x%d)", r.b, r.f)
}

// Abs represents f = |b|.
type Abs struct {
	plConstraint
	b, f int
}

// NewAbs returns an absolute-value constraint over input b and output f.
func NewAbs(b, f int) *Abs {
	return &Abs{plConstraint: plConstraint{active: true}, b: b, f: f}
}

func (a *Abs) positiveSplit() PiecewiseLinearCaseSplit {
	var s PiecewiseLinearCaseSplit
	s.StoreBoundTightening(tightening(a.b, 0, LB))
	return s
}

func (a *Abs) negativeSplit() PiecewiseLinearCaseSplit {
	var s PiecewiseLinearCaseSplit
	s.StoreBoundTightening(tightening(a.b, 0, UB))
	return s
}

// CaseSplits returns the positive phase (b >= 0) then the negative phase
// (b <= 0).
func (a *Abs) CaseSplits() []PiecewiseLinearCaseSplit {
	return []PiecewiseLinearCaseSplit{a.positiveSplit(), a.negativeSplit()}
}

func (a *Abs) Variables() []int {
	return []int{a.b, a.f}
}

func (a *Abs) PhaseFixed() bool {
	if a.bm == nil {
		return false
	}
	return floats.Gte(a.bm.LowerBound(a.b), 0) || floats.Lte(a.bm.UpperBound(a.b), 0)
}

func (a *Abs) ValidCaseSplit() (PiecewiseLinearCaseSplit, bool) {
	if a.bm == nil {
		return PiecewiseLinearCaseSplit{}, false
	}
	if floats.Gte(a.bm.LowerBound(a.b), 0) {
		return a.positiveSplit(), true
	}
	if floats.Lte(a.bm.UpperBound(a.b), 0) {
		return a.negativeSplit(), true
	}
	return PiecewiseLinearCaseSplit{}, false
}

func (a *Abs) SatisfiedBy(assignment []float64) bool {
	return floats.Equal(assignment[a.f], floats.Abs(assignment[a.b]))
}

func (a *Abs) String() string {
	return fmt.Sprintf("abs(b=x%d, f=x%d)", a.b, a.f)
}

// Sign represents f = sign(b), with f in {-1, 1}; sign(0) = 1.
type Sign struct {
	plConstraint
	b, f int
}

// NewSign returns a sign constraint over input b and output f.
func NewSign(b, f int) *Sign {
	return &Sign{plConstraint: plConstraint{active: true}, b: b, f: f}
}

func (s *Sign) positiveSplit() PiecewiseLinearCaseSplit {
	var split PiecewiseLinearCaseSplit
	split.StoreBoundTightening(tightening(s.b, 0, LB))
	split.StoreBoundTightening(tightening(s.f, 1, LB))
	return split
}

func (s *Sign) negativeSplit() PiecewiseLinearCaseSplit {
	var split PiecewiseLinearCaseSplit
	split.StoreBoundTightening(tightening(s.b, 0, UB))
	split.StoreBoundTightening(tightening(s.f, -1, UB))
	return split
}

// CaseSplits returns the positive phase (b >= 0, f = 1) then the negative
// phase (b <= 0, f = -1). The splits assume f starts within [-1, 1].
func (s *Sign) CaseSplits() []PiecewiseLinearCaseSplit {
	return []PiecewiseLinearCaseSplit{s.positiveSplit(), s.negativeSplit()}
}

func (s *Sign) Variables() []int {
	return []int{s.b, s.f}
}

func (s *Sign) PhaseFixed() bool {
	if s.bm == nil {
		return false
	}
	return floats.Gte(s.bm.LowerBound(s.b), 0) || floats.IsNegative(s.bm.UpperBound(s.b))
}

func (s *Sign) ValidCaseSplit() (PiecewiseLinearCaseSplit, bool) {
	if s.bm == nil {
		return PiecewiseLinearCaseSplit{}, false
	}
	if floats.Gte(s.bm.LowerBound(s.b), 0) {
		return s.positiveSplit(), true
	}
	if floats.IsNegative(s.bm.UpperBound(s.b)) {
		return s.negativeSplit(), true
	}
	return PiecewiseLinearCaseSplit{}, false
}

func (s *Sign) SatisfiedBy(assignment []float64) bool {
	want := 1.0
	if floats.IsNegative(assignment[s.b]) {
		want = -1.0
	}
	return floats.Equal(assignment[s.f], want)
}

func (s *Sign) String() string {
	return fmt.Sprintf("sign(b=x%d, f=x%d)", s.b, s.f)
}

// Max represents f = max(elements). Each element xᵢ comes with an auxiliary
// variable auxᵢ = f − xᵢ, constrained to auxᵢ >= 0 by the query encoding;
// the i'th phase pins auxᵢ to zero, making xᵢ the maximum.
type Max struct {
	plConstraint
	f        int
	elements []int
	aux      []int
}

// NewMax returns a max constraint with output f over the given elements and
// their auxiliary difference variables. elements and aux must have the same
// length, at least two.
func NewMax(f int, elements, aux []int) *Max {
	if len(elements) != len(aux) || len(elements) < 2 {
		panic("solver: max constraint needs matching elements and aux, two or more")
	}
	return &Max{plConstraint: plConstraint{active: true}, f: f, elements: elements, aux: aux}
}

func (m *Max) phaseSplit(i int) PiecewiseLinearCaseSplit {
	var s PiecewiseLinearCaseSplit
	s.StoreBoundTightening(tightening(m.aux[i], 0, UB))
	return s
}

// CaseSplits returns one split per element, pinning that element's auxiliary
// difference to zero.
func (m *Max) CaseSplits() []PiecewiseLinearCaseSplit {
	splits := make([]PiecewiseLinearCaseSplit, len(m.elements))
	for i := range m.elements {
		splits[i] = m.phaseSplit(i)
	}
	return splits
}

func (m *Max) Variables() []int {
	vars := []int{m.f}
	vars = append(vars, m.elements...)
	vars = append(vars, m.aux...)
	return vars
}

func (m *Max) PhaseFixed() bool {
	_, ok := m.ValidCaseSplit()
	return ok
}

func (m *Max) ValidCaseSplit() (PiecewiseLinearCaseSplit, bool) {
	if m.bm == nil {
		return PiecewiseLinearCaseSplit{}, false
	}
	for i, aux := range m.aux {
		if floats.Lte(m.bm.UpperBound(aux), 0) {
			return m.phaseSplit(i), true
		}
	}
	return PiecewiseLinearCaseSplit{}, false
}

func (m *Max) SatisfiedBy(assignment []float64) bool {
	max := floats.NegativeInfinity()
	for _, e := range m.elements {
		max = floats.Max(max, assignment[e])
	}
	return floats.Equal(assignment[m.f], max)
}

func (m *Max) String() string {
	return fmt.Sprintf("max(f=x%d, %d elements)", m.f, len(m.elements))
}
