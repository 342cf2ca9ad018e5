package engine

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nnverify/plinth/certificate"
	"github.com/nnverify/plinth/floats"
	"github.com/nnverify/plinth/solver"
)

// An Engine runs the search loop over one query: tighten bounds through
// the tableau rows, fix or split piecewise-linear constraints, backtrack
// on infeasibility. It owns the SmtCore and implements solver.Engine for
// it.
type Engine struct {
	cfg       solver.Config
	logger    logrus.FieldLogger
	numVars   int // query variables, excluding slacks
	equations []Equation

	ctx         *solver.Context
	bm          *solver.BoundManager
	tableau     *Tableau
	constraints []solver.PiecewiseLinearConstraint

	smt       *solver.SmtCore
	tightener *solver.RowBoundTightener
	stats     *solver.Statistics

	snc  bool
	tree *certificate.Tree
	ptr  certificate.NodeID

	deferredErr error
}

// New builds an engine for the query.
func New(q *Query, cfg solver.Config, logger logrus.FieldLogger) (*Engine, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		numVars:   q.NumVariables,
		equations: q.Equations,
		ctx:       solver.NewContext(),
		stats:     &solver.Statistics{},
		ptr:       certificate.None,
	}
	e.bm = solver.NewBoundManager(e.ctx)
	e.bm.Initialize(q.NumVariables)

	var err error
	e.tableau, err = newTableau(q, e.bm)
	if err != nil {
		return nil, err
	}

	for _, b := range q.Bounds {
		if b.Lower != nil {
			e.bm.SetLowerBound(b.Variable, *b.Lower)
		}
		if b.Upper != nil {
			e.bm.SetUpperBound(b.Variable, *b.Upper)
		}
	}

	e.constraints = q.constraints()
	for _, c := range e.constraints {
		c.RegisterBoundManager(e.bm)
	}

	e.smt = solver.NewSmtCore(e, cfg, logger)
	e.smt.SetStatistics(e.stats)
	e.smt.InitializeScoreTrackerIfNeeded(e.constraints)

	e.tightener = solver.NewRowBoundTightener(e.tableau, cfg, logger)
	e.tightener.SetDimensions()
	e.tightener.SetStatistics(e.stats)

	if cfg.ProduceProofs {
		e.tree = certificate.NewTree()
		e.ptr = e.tree.Root()
	}
	return e, nil
}

// Statistics returns the engine's counters.
func (e *Engine) Statistics() *solver.Statistics { return e.stats }

// Smt exposes the SmtCore, mainly for replaying sub-query stacks.
func (e *Engine) Smt() *solver.SmtCore { return e.smt }

// SetSnCMode marks the engine as running under split-and-conquer, which
// relaxes the stack-depth/context-level invariant.
func (e *Engine) SetSnCMode(on bool) { e.snc = on }

// Solve searches for a satisfying assignment. It returns Sat with a
// witness, Unsat with a nil witness, or Indet when ctx is done first.
func (e *Engine) Solve(ctx context.Context) (solver.Status, []float64, error) {
	for {
		select {
		case <-ctx.Done():
			return solver.Indet, nil, nil
		default:
		}
		if e.deferredErr != nil {
			return solver.Indet, nil, e.deferredErr
		}

		if !e.ConsistentBounds() {
			if popped, err := e.backtrack(); err != nil {
				return solver.Indet, nil, err
			} else if !popped {
				return solver.Unsat, nil, nil
			}
			continue
		}

		if err := e.tightenRows(); err != nil {
			if !errors.Is(err, solver.ErrInfeasible) {
				return solver.Indet, nil, err
			}
			if popped, perr := e.backtrack(); perr != nil {
				return solver.Indet, nil, perr
			} else if !popped {
				return solver.Unsat, nil, nil
			}
			continue
		}

		e.ApplyAllBoundTightenings()
		if e.applyAllValidConstraintCaseSplits() > 0 {
			// Re-tighten before judging satisfaction, so the splits'
			// consequences reach every bound.
			continue
		}

		witness := e.assignment()
		violated := e.violatedConstraints(witness)
		if len(violated) == 0 {
			if !e.witnessSatisfiesEquations(witness) {
				// Interval propagation cannot refine the box any further
				// here, so a row-coupled conflict is beyond this engine.
				return solver.Indet, nil, nil
			}
			return solver.Sat, witness[:e.numVars], nil
		}

		target := e.smt.ChooseViolatedConstraintForFixing(violated)
		e.smt.ReportViolatedConstraint(target)
		e.smt.UpdatePseudoImpact(target, 1)
		if e.smt.NeedToSplit() {
			e.smt.PerformSplit()
			e.smt.ResetSplitConditions()
			if e.logger != nil {
				e.logger.WithFields(logrus.Fields{
					"level":  e.smt.StackDepth(),
					"splits": e.stats.NumSplits,
				}).Debug("performed split")
			}
		}
	}
}

func (e *Engine) tightenRows() error {
	if e.tableau.M() == 0 {
		return nil
	}
	if err := e.tightener.ExamineBasisMatrix(true); err != nil {
		return err
	}
	return e.tightener.ExamineConstraintMatrix(true)
}

// backtrack explains the dead end when proofs are on, then pops to the
// next unexplored split.
func (e *Engine) backtrack() (bool, error) {
	if e.ShouldProduceProofs() {
		e.ExplainSimplexFailure()
	}
	return e.smt.PopSplit()
}

// assignment builds a candidate witness from the current bounds: the
// midpoint of a finite box, the finite end of a half-open one, zero for a
// free variable.
func (e *Engine) assignment() []float64 {
	out := make([]float64, e.bm.NumberOfVariables())
	for v := range out {
		lower, upper := e.bm.LowerBound(v), e.bm.UpperBound(v)
		switch {
		case lower == floats.NegativeInfinity() && upper == floats.Infinity():
			out[v] = 0
		case lower == floats.NegativeInfinity():
			out[v] = upper
		case upper == floats.Infinity():
			out[v] = lower
		default:
			out[v] = (lower + upper) / 2
		}
	}
	return out
}

// witnessResidualTolerance absorbs the rounding slack bound tightenings
// carry, which the box midpoints inherit.
const witnessResidualTolerance = 1e-5

// witnessSatisfiesEquations checks the candidate against every query
// equation. The midpoints satisfy all bounds by construction, but bound
// propagation alone does not see conflicts between coupled rows.
func (e *Engine) witnessSatisfiesEquations(witness []float64) bool {
	for _, eq := range e.equations {
		sum := 0.0
		for _, a := range eq.Addends {
			sum += a.Coefficient * witness[a.Variable]
		}
		if math.Abs(sum-eq.Scalar) > witnessResidualTolerance {
			return false
		}
	}
	return true
}

func (e *Engine) violatedConstraints(assignment []float64) []solver.PiecewiseLinearConstraint {
	var violated []solver.PiecewiseLinearConstraint
	for _, c := range e.constraints {
		if c.IsActive() && !c.SatisfiedBy(assignment) {
			violated = append(violated, c)
		}
	}
	return violated
}

// solver.Engine implementation.

type engineState struct {
	lower, upper []float64
	active       []bool
	// The tableau's matrix is immutable here, so the full-tableau level
	// stores nothing beyond the bounds.
	level solver.StorageLevel
}

// ApplySplit registers the split's bound tightenings.
func (e *Engine) ApplySplit(split solver.PiecewiseLinearCaseSplit) {
	for _, t := range split.BoundTightenings() {
		if t.Kind == solver.LB {
			e.bm.SetLowerBound(t.Variable, t.Value)
		} else {
			e.bm.SetUpperBound(t.Variable, t.Value)
		}
	}
}

// StoreState snapshots bounds and constraint activation.
func (e *Engine) StoreState(level solver.StorageLevel) solver.EngineState {
	s := &engineState{level: level}
	for v := 0; v < e.bm.NumberOfVariables(); v++ {
		s.lower = append(s.lower, e.bm.LowerBound(v))
		s.upper = append(s.upper, e.bm.UpperBound(v))
	}
	for _, c := range e.constraints {
		s.active = append(s.active, c.IsActive())
	}
	return s
}

// RestoreState reinstates a snapshot taken by StoreState.
func (e *Engine) RestoreState(state solver.EngineState) {
	s := state.(*engineState)
	for v := range s.lower {
		// Write through the raw setters' monotonicity by restoring both
		// directions: bounds may have tightened since the snapshot.
		e.restoreBound(v, s.lower[v], s.upper[v])
	}
	for i, c := range e.constraints {
		c.SetActiveConstraint(s.active[i])
	}
}

// restoreBound forces v's bounds to exactly (lower, upper). The context
// pop that precedes every restore has already widened the bounds to their
// pre-push values, so plain monotone sets suffice; the loop below only
// re-applies what the snapshot additionally knew.
func (e *Engine) restoreBound(v int, lower, upper float64) {
	if lower > e.bm.LowerBound(v) {
		e.bm.SetLowerBound(v, lower)
	}
	if upper < e.bm.UpperBound(v) {
		e.bm.SetUpperBound(v, upper)
	}
}

func (e *Engine) PreContextPushHook() {}

func (e *Engine) PostContextPopHook() {
	// Deductions drawn under the popped scope are stale.
	e.bm.Tightenings()
}

func (e *Engine) ConsistentBounds() bool { return e.bm.ConsistentBounds() }

// ApplyAllBoundTightenings drains the pending tightening log. The bound
// manager already holds the tightened values; draining keeps the log from
// growing unboundedly.
func (e *Engine) ApplyAllBoundTightenings() {
	e.bm.Tightenings()
}

// ApplyAllValidConstraintCaseSplits applies the case split of every
// constraint whose phase the current bounds determine, and records it as
// an implied valid split.
func (e *Engine) ApplyAllValidConstraintCaseSplits() {
	e.applyAllValidConstraintCaseSplits()
}

func (e *Engine) applyAllValidConstraintCaseSplits() int {
	applied := 0
	for _, c := range e.constraints {
		if !c.IsActive() {
			continue
		}
		split, ok := c.ValidCaseSplit()
		if !ok {
			continue
		}
		c.SetActiveConstraint(false)
		e.ApplySplit(split)
		applied++
		if err := e.smt.RecordImpliedValidSplit(split); err != nil && e.deferredErr == nil {
			e.deferredErr = err
		}
	}
	return applied
}

// PickSplitPLConstraint implements the branching strategies. The native
// relu-violation heuristic abstains, letting the SmtCore earmark the
// reported constraint itself.
func (e *Engine) PickSplitPLConstraint(strategy solver.BranchingHeuristic) solver.PiecewiseLinearConstraint {
	switch strategy {
	case solver.LargestInterval:
		var best solver.PiecewiseLinearConstraint
		bestWidth := -1.0
		for _, c := range e.constraints {
			if !c.IsActive() || c.PhaseFixed() {
				continue
			}
			v := c.Variables()[0]
			width := e.bm.UpperBound(v) - e.bm.LowerBound(v)
			if width > bestWidth {
				best, bestWidth = c, width
			}
		}
		return best
	default:
		return nil
	}
}

func (e *Engine) Context() *solver.Context { return e.ctx }

func (e *Engine) InSnCMode() bool { return e.snc }

func (e *Engine) ShouldProduceProofs() bool { return e.cfg.ProduceProofs }

func (e *Engine) Certificate() *certificate.Tree { return e.tree }

func (e *Engine) CertificatePointer() certificate.NodeID { return e.ptr }

func (e *Engine) SetCertificatePointer(id certificate.NodeID) { e.ptr = id }

// ExplainSimplexFailure closes the current certificate node with a
// contradiction.
func (e *Engine) ExplainSimplexFailure() {
	if e.tree == nil || e.ptr == certificate.None {
		return
	}
	e.tree.MarkContradiction(e.ptr)
	if e.logger != nil {
		e.logger.WithField("node", e.ptr).Debug("marked contradiction")
	}
}
