package solver

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nnverify/plinth/certificate"
)

// An SmtStackEntry is one decision point of the search: the split currently
// in force, the siblings not yet explored, the valid splits learned while
// the active split held, and the engine snapshot to restore when switching
// siblings.
type SmtStackEntry struct {
	ActiveSplit        PiecewiseLinearCaseSplit
	AlternativeSplits  []PiecewiseLinearCaseSplit
	ImpliedValidSplits []PiecewiseLinearCaseSplit
	EngineState        EngineState
	StateID            uint64
}

// duplicate copies the splits but not the engine snapshot, which is only
// meaningful in the stack it was taken for.
func (e *SmtStackEntry) duplicate() *SmtStackEntry {
	dup := &SmtStackEntry{
		ActiveSplit: e.ActiveSplit,
		StateID:     e.StateID,
	}
	dup.AlternativeSplits = append(dup.AlternativeSplits, e.AlternativeSplits...)
	dup.ImpliedValidSplits = append(dup.ImpliedValidSplits, e.ImpliedValidSplits...)
	return dup
}

// An SmtState is a portable copy of the decision stack, suitable for
// handing a sub-query to another solver instance.
type SmtState struct {
	ImpliedValidSplitsAtRoot []PiecewiseLinearCaseSplit
	Stack                    []*SmtStackEntry
	StateID                  uint64
}

// The SmtCore drives the decision search: it tracks which constraints are
// misbehaving badly enough to split on, performs splits against the
// engine's context-scoped state, and backtracks to unexplored siblings
// when a branch turns out infeasible.
//
// The core borrows the engine and its context; the engine owns the core.
type SmtCore struct {
	engine  Engine
	context *Context
	cfg     Config
	logger  logrus.FieldLogger
	stats   *Statistics

	needToSplit            bool
	constraintForSplitting PiecewiseLinearConstraint
	stateID                uint64

	constraintToViolationCount       map[PiecewiseLinearConstraint]int
	numRejectedPhasePatternProposals int
	scoreTracker                     *PseudoImpactTracker

	stack                    []*SmtStackEntry
	impliedValidSplitsAtRoot []PiecewiseLinearCaseSplit

	debuggingSolution map[int]float64
}

// NewSmtCore returns a core bound to the given engine. A nil logger
// disables logging.
func NewSmtCore(engine Engine, cfg Config, logger logrus.FieldLogger) *SmtCore {
	return &SmtCore{
		engine:                     engine,
		context:                    engine.Context(),
		cfg:                        cfg,
		logger:                     logger,
		constraintToViolationCount: make(map[PiecewiseLinearConstraint]int),
	}
}

// SetStatistics attaches a statistics sink.
func (s *SmtCore) SetStatistics(stats *Statistics) {
	s.stats = stats
}

// Reset returns the core to its initial state, popping the context back to
// level zero.
func (s *SmtCore) Reset() {
	s.context.PopTo(0)
	s.engine.PostContextPopHook()
	s.stack = nil
	s.impliedValidSplitsAtRoot = nil
	s.needToSplit = false
	s.constraintForSplitting = nil
	s.stateID = 0
	s.constraintToViolationCount = make(map[PiecewiseLinearConstraint]int)
	s.numRejectedPhasePatternProposals = 0
}

// ReportViolatedConstraint bumps c's violation counter. Crossing the
// configured threshold arms the need-to-split flag; if the branching
// heuristic declines to pick, c itself is earmarked.
func (s *SmtCore) ReportViolatedConstraint(c PiecewiseLinearConstraint) {
	s.constraintToViolationCount[c]++
	if s.constraintToViolationCount[c] >= s.cfg.ConstraintViolationThreshold {
		s.needToSplit = true
		if !s.pickSplitPLConstraint() {
			s.constraintForSplitting = c
		}
	}
}

// ViolationCounts returns c's accumulated violation count.
func (s *SmtCore) ViolationCounts(c PiecewiseLinearConstraint) int {
	return s.constraintToViolationCount[c]
}

// InitializeScoreTrackerIfNeeded sets up the pseudo-impact tracker when
// deep-SoI local search is configured.
func (s *SmtCore) InitializeScoreTrackerIfNeeded(constraints []PiecewiseLinearConstraint) {
	if !s.cfg.UseDeepSoILocalSearch {
		return
	}
	s.scoreTracker = NewPseudoImpactTracker()
	s.scoreTracker.Initialize(constraints)
	if s.logger != nil {
		s.logger.WithField("constraints", len(constraints)).Debug("tracking pseudo impact")
	}
}

// UpdatePseudoImpact folds a branching impact observation into c's score.
// A no-op when the tracker is off.
func (s *SmtCore) UpdatePseudoImpact(c PiecewiseLinearConstraint, impact float64) {
	if s.scoreTracker != nil {
		s.scoreTracker.Update(c, impact)
	}
}

// PseudoImpact returns c's current tracker score, zero when the tracker is
// off.
func (s *SmtCore) PseudoImpact(c PiecewiseLinearConstraint) float64 {
	if s.scoreTracker == nil {
		return 0
	}
	return s.scoreTracker.Score(c)
}

// ReportRejectedPhasePatternProposal bumps the deep-SoI rejection counter.
// Crossing the threshold flushes pending tightenings and implied case
// splits, then earmarks a constraint to split on.
func (s *SmtCore) ReportRejectedPhasePatternProposal() {
	s.numRejectedPhasePatternProposals++
	if s.numRejectedPhasePatternProposals >= s.cfg.DeepSoIRejectionThreshold {
		s.needToSplit = true
		s.engine.ApplyAllBoundTightenings()
		s.engine.ApplyAllValidConstraintCaseSplits()
		if !s.pickSplitPLConstraint() && s.scoreTracker != nil {
			s.constraintForSplitting = s.scoreTracker.TopUnfixed()
		}
	}
}

// NeedToSplit reports whether a split trigger has fired.
func (s *SmtCore) NeedToSplit() bool {
	return s.needToSplit
}

// ResetSplitConditions clears the violation and rejection counters and the
// need-to-split flag.
func (s *SmtCore) ResetSplitConditions() {
	s.constraintToViolationCount = make(map[PiecewiseLinearConstraint]int)
	s.numRejectedPhasePatternProposals = 0
	s.needToSplit = false
}

// PerformSplit splits on the earmarked constraint: deactivates it,
// snapshots the engine, pushes a context level, applies the first case
// split and stacks the rest as alternatives. A constraint that became
// inactive since it was earmarked is skipped.
func (s *SmtCore) PerformSplit() {
	if !s.needToSplit {
		panic("solver: PerformSplit without a pending split")
	}

	s.numRejectedPhasePatternProposals = 0
	if !s.constraintForSplitting.IsActive() {
		s.needToSplit = false
		s.constraintToViolationCount[s.constraintForSplitting] = 0
		s.constraintForSplitting = nil
		return
	}

	start := time.Now()
	s.needToSplit = false

	if s.stats != nil {
		s.stats.NumSplits++
		s.stats.NumVisitedTreeStates++
	}

	// Obtain the splits before snapshotting, and deactivate the constraint
	// so the snapshot records it as disabled.
	splits := s.constraintForSplitting.CaseSplits()
	if len(splits) < 2 {
		panic("solver: splitting a constraint with fewer than two cases")
	}
	s.constraintForSplitting.SetActiveConstraint(false)

	entry := &SmtStackEntry{
		EngineState: s.engine.StoreState(StoreBoundsOnly),
		StateID:     s.stateID,
	}
	s.stateID++

	s.engine.PreContextPushHook()
	s.pushContext()

	var certificateNode certificate.NodeID = certificate.None
	proofs := s.engine.ShouldProduceProofs() && s.engine.Certificate() != nil
	if proofs {
		certificateNode = s.engine.CertificatePointer()
		for i := range splits {
			s.engine.Certificate().AddChild(certificateNode, splits[i])
		}
	}

	first := splits[0]
	if len(first.Equations()) != 0 {
		panic("solver: case splits pushed on the stack must be bounds-only")
	}
	if proofs {
		child := s.engine.Certificate().ChildBySplit(certificateNode, first)
		s.engine.SetCertificatePointer(child)
	}

	s.engine.ApplySplit(first)
	entry.ActiveSplit = first
	entry.AlternativeSplits = append(entry.AlternativeSplits, splits[1:]...)
	s.stack = append(s.stack, entry)

	if s.stats != nil {
		s.stats.observeDecisionLevel(s.StackDepth())
		s.stats.TimeSmtCore += time.Since(start)
	}

	s.constraintForSplitting = nil
}

// StackDepth returns the number of decision points. Outside snc mode the
// depth always matches the context level.
func (s *SmtCore) StackDepth() int {
	if !s.engine.InSnCMode() && len(s.stack) != s.context.Level() {
		panic("solver: decision stack out of sync with context level")
	}
	return len(s.stack)
}

// PopSplit backtracks to the next unexplored sibling split. Entries with
// no alternatives left are dropped, reverting their bounds. Returns false
// when the whole stack is exhausted, which means the query is unsat.
func (s *SmtCore) PopSplit() (bool, error) {
	if s.logger != nil {
		s.logger.Debug("performing a pop")
	}
	if len(s.stack) == 0 {
		return false, nil
	}

	start := time.Now()
	if s.stats != nil {
		s.stats.NumPops++
		// A pop always lands on a state not seen before, either a sibling
		// split or a lower tree level.
		s.stats.NumVisitedTreeStates++
	}

	for inconsistent := true; inconsistent; {
		// Drop entries that have no alternatives left.
		for len(s.top().AlternativeSplits) == 0 {
			if compliant, err := s.checkSkewFromDebuggingSolution(); err != nil {
				return false, err
			} else if compliant {
				return false, debuggingErrorf("popping from a stack compliant with the stored solution")
			}

			s.stack = s.stack[:len(s.stack)-1]
			s.popContext()

			if s.engine.ShouldProduceProofs() && s.engine.CertificatePointer() != certificate.None {
				parent := s.engine.Certificate().Parent(s.engine.CertificatePointer())
				s.engine.SetCertificatePointer(parent)
			}

			if len(s.stack) == 0 {
				return false, nil
			}
		}

		if compliant, err := s.checkSkewFromDebuggingSolution(); err != nil {
			return false, err
		} else if compliant {
			return false, debuggingErrorf("popping from a stack compliant with the stored solution")
		}

		entry := s.top()

		s.popContext()
		s.engine.PostContextPopHook()
		s.engine.RestoreState(entry.EngineState)

		split := entry.AlternativeSplits[0]

		// Valid splits learned under the popped split no longer hold.
		entry.ImpliedValidSplits = nil

		if s.engine.ShouldProduceProofs() && s.engine.CertificatePointer() != certificate.None {
			// The matching child may hang off an ancestor when earlier
			// drops walked the pointer up.
			tree := s.engine.Certificate()
			node := s.engine.CertificatePointer()
			child := tree.ChildBySplit(node, split)
			for child == certificate.None {
				node = tree.Parent(node)
				child = tree.ChildBySplit(node, split)
			}
			s.engine.SetCertificatePointer(child)
		}

		if len(split.Equations()) != 0 {
			panic("solver: case splits pushed on the stack must be bounds-only")
		}
		s.engine.PreContextPushHook()
		s.pushContext()
		s.engine.ApplySplit(split)

		entry.ActiveSplit = split
		entry.AlternativeSplits = entry.AlternativeSplits[1:]

		inconsistent = !s.engine.ConsistentBounds()
		if inconsistent && s.engine.ShouldProduceProofs() {
			s.engine.ExplainSimplexFailure()
		}
	}

	if s.stats != nil {
		s.stats.observeDecisionLevel(s.StackDepth())
		s.stats.TimeSmtCore += time.Since(start)
	}

	if _, err := s.checkSkewFromDebuggingSolution(); err != nil {
		return false, err
	}
	return true, nil
}

// RecordImpliedValidSplit records a split that became valid under the
// current decisions, at the root when the stack is empty.
func (s *SmtCore) RecordImpliedValidSplit(split PiecewiseLinearCaseSplit) error {
	if len(s.stack) == 0 {
		s.impliedValidSplitsAtRoot = append(s.impliedValidSplitsAtRoot, split)
	} else {
		top := s.top()
		top.ImpliedValidSplits = append(top.ImpliedValidSplits, split)
	}
	_, err := s.checkSkewFromDebuggingSolution()
	return err
}

// AllSplitsSoFar returns every split currently in force: root-implied
// splits, then per level the active split and its implied splits.
func (s *SmtCore) AllSplitsSoFar() []PiecewiseLinearCaseSplit {
	var result []PiecewiseLinearCaseSplit
	result = append(result, s.impliedValidSplitsAtRoot...)
	for _, entry := range s.stack {
		result = append(result, entry.ActiveSplit)
		result = append(result, entry.ImpliedValidSplits...)
	}
	return result
}

// ChooseViolatedConstraintForFixing picks which violated constraint to try
// fixing: with least-fix on, the one with the fewest recorded violations,
// otherwise the first.
func (s *SmtCore) ChooseViolatedConstraintForFixing(violated []PiecewiseLinearConstraint) PiecewiseLinearConstraint {
	if len(violated) == 0 {
		panic("solver: choosing among zero violated constraints")
	}
	if !s.cfg.UseLeastFix {
		return violated[0]
	}

	candidate := violated[0]
	minFixes := s.ViolationCounts(candidate)
	for _, contender := range violated[1:] {
		if fixes := s.ViolationCounts(contender); fixes < minFixes {
			minFixes = fixes
			candidate = contender
		}
	}
	return candidate
}

// ReplaySmtStackEntry re-applies a stack entry prepared externally, for
// instance when resuming a sub-query. The snapshot is taken at full
// tableau granularity.
func (s *SmtCore) ReplaySmtStackEntry(entry *SmtStackEntry) {
	start := time.Now()
	if s.stats != nil {
		s.stats.NumSplits++
		s.stats.NumVisitedTreeStates++
	}

	entry.EngineState = s.engine.StoreState(StoreEntireTableauState)
	entry.StateID = s.stateID
	s.stateID++

	s.engine.ApplySplit(entry.ActiveSplit)
	for _, implied := range entry.ImpliedValidSplits {
		s.engine.ApplySplit(implied)
	}

	s.stack = append(s.stack, entry)

	if s.stats != nil {
		s.stats.observeDecisionLevel(s.StackDepth())
		s.stats.TimeSmtCore += time.Since(start)
	}
}

// StoreSmtState copies the decision stack into a portable SmtState.
func (s *SmtCore) StoreSmtState() *SmtState {
	state := &SmtState{StateID: s.stateID}
	state.ImpliedValidSplitsAtRoot = append(state.ImpliedValidSplitsAtRoot, s.impliedValidSplitsAtRoot...)
	for _, entry := range s.stack {
		state.Stack = append(state.Stack, entry.duplicate())
	}
	return state
}

// StoreDebuggingSolution loads a reference assignment; from then on every
// stack mutation is checked against it.
func (s *SmtCore) StoreDebuggingSolution(solution map[int]float64) {
	s.debuggingSolution = solution
}

// checkSkewFromDebuggingSolution reports whether the stack is compliant
// with the stored solution. Without a stored solution the stack counts as
// non-compliant. A non-compliant active split is tolerated only when the
// entry still has alternatives; any other contradiction is an error.
func (s *SmtCore) checkSkewFromDebuggingSolution() (bool, error) {
	if len(s.debuggingSolution) == 0 {
		return false, nil
	}

	for i := range s.impliedValidSplitsAtRoot {
		if ok, detail := s.splitAllowsStoredSolution(&s.impliedValidSplitsAtRoot[i]); !ok {
			return false, debuggingErrorf("root-implied split contradicts the stored solution: %s", detail)
		}
	}

	// Oldest to newest.
	for _, entry := range s.stack {
		if ok, detail := s.splitAllowsStoredSolution(&entry.ActiveSplit); !ok {
			if len(entry.AlternativeSplits) == 0 {
				return false, debuggingErrorf("split contradicts the stored solution with no alternatives left: %s", detail)
			}
			// Fine, a sibling can still reach the solution.
			return false, nil
		}
		for i := range entry.ImpliedValidSplits {
			if ok, detail := s.splitAllowsStoredSolution(&entry.ImpliedValidSplits[i]); !ok {
				return false, debuggingErrorf("implied split contradicts the stored solution: %s", detail)
			}
		}
	}
	return true, nil
}

func (s *SmtCore) splitAllowsStoredSolution(split *PiecewiseLinearCaseSplit) (bool, string) {
	for _, bound := range split.BoundTightenings() {
		value, cares := s.debuggingSolution[bound.Variable]
		if !cares {
			continue
		}
		switch bound.Kind {
		case LB:
			if bound.Value > value {
				return false, detailBound(bound, value)
			}
		case UB:
			if bound.Value < value {
				return false, detailBound(bound, value)
			}
		}
	}
	return true, ""
}

func detailBound(bound Tightening, solutionValue float64) string {
	kind := "LB"
	if bound.Kind == UB {
		kind = "UB"
	}
	return fmt.Sprintf("variable %d: new %s is %.5f against solution value %.5f",
		bound.Variable, kind, bound.Value, solutionValue)
}

func (s *SmtCore) pickSplitPLConstraint() bool {
	if s.needToSplit {
		s.constraintForSplitting = s.engine.PickSplitPLConstraint(s.cfg.BranchingHeuristic)
	}
	return s.constraintForSplitting != nil
}

func (s *SmtCore) top() *SmtStackEntry {
	return s.stack[len(s.stack)-1]
}

func (s *SmtCore) pushContext() {
	start := time.Now()
	s.context.Push()
	if s.stats != nil {
		s.stats.NumContextPushes++
		s.stats.TimeContextPush += time.Since(start)
	}
}

func (s *SmtCore) popContext() {
	start := time.Now()
	s.context.Pop()
	if s.stats != nil {
		s.stats.NumContextPops++
		s.stats.TimeContextPop += time.Since(start)
	}
}
