package solver

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSmtHarness(numVars int, cfg Config) (*mockEngine, *SmtCore) {
	engine := newMockEngine(numVars)
	return engine, NewSmtCore(engine, cfg, nil)
}

func TestViolationThresholdTriggersSplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 3
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)

	smt.ReportViolatedConstraint(relu)
	smt.ReportViolatedConstraint(relu)
	assert.False(t, smt.NeedToSplit())
	smt.ReportViolatedConstraint(relu)
	assert.True(t, smt.NeedToSplit())
	assert.Equal(t, 3, smt.ViolationCounts(relu))

	// The heuristic abstained, so the reported constraint itself is split.
	smt.PerformSplit()
	assert.False(t, relu.IsActive())
	assert.Equal(t, 1, smt.StackDepth())

	smt.ResetSplitConditions()
	assert.False(t, smt.NeedToSplit())
	assert.Equal(t, 0, smt.ViolationCounts(relu))
}

func TestHeuristicPickWinsOverReportedConstraint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(4, cfg)

	reported := NewReLU(0, 1)
	picked := NewReLU(2, 3)
	engine.addConstraint(reported)
	engine.addConstraint(picked)
	engine.picked = picked

	smt.ReportViolatedConstraint(reported)
	require.True(t, smt.NeedToSplit())
	smt.PerformSplit()

	assert.True(t, reported.IsActive())
	assert.False(t, picked.IsActive())
}

func TestSplitThenPopThenPop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	engine.bm.SetLowerBound(0, -5)
	engine.bm.SetUpperBound(0, 5)
	engine.bm.SetLowerBound(1, 0)
	engine.bm.SetUpperBound(1, 5)

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()

	// Active phase: b >= 0.
	assert.Equal(t, 0.0, engine.bm.LowerBound(0))
	assert.Equal(t, 1, smt.StackDepth())
	assert.Equal(t, 1, engine.ctx.Level())

	// Pop switches to the inactive phase: b <= 0, f <= 0.
	ok, err := smt.PopSplit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -5.0, engine.bm.LowerBound(0))
	assert.Equal(t, 0.0, engine.bm.UpperBound(0))
	assert.Equal(t, 0.0, engine.bm.UpperBound(1))
	assert.Equal(t, 1, smt.StackDepth())

	// No alternatives left: the entry is dropped and bounds revert.
	ok, err = smt.PopSplit()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, -5.0, engine.bm.LowerBound(0))
	assert.Equal(t, 5.0, engine.bm.UpperBound(0))
	assert.Equal(t, 5.0, engine.bm.UpperBound(1))
	assert.Equal(t, 0, smt.StackDepth())
	assert.Equal(t, 0, engine.ctx.Level())
}

func TestPopSplitOnEmptyStack(t *testing.T) {
	_, smt := newSmtHarness(1, DefaultConfig())
	ok, err := smt.PopSplit()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPerformSplitSkipsInactiveConstraint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	smt.ReportViolatedConstraint(relu)
	require.True(t, smt.NeedToSplit())

	// The constraint got fixed by other means before the split happened.
	relu.SetActiveConstraint(false)
	smt.PerformSplit()

	assert.False(t, smt.NeedToSplit())
	assert.Equal(t, 0, smt.StackDepth())
	assert.Equal(t, 0, smt.ViolationCounts(relu))
}

func TestPopSplitSkipsInconsistentAlternative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)
	engine.enableProofs()

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	// With b >= 1 the inactive phase (b <= 0) is contradictory.
	engine.bm.SetLowerBound(0, 1)

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()

	ok, err := smt.PopSplit()
	require.NoError(t, err)
	assert.False(t, ok, "both phases exhausted")
	assert.Equal(t, 1, engine.explainCalls)
	assert.Equal(t, 1.0, engine.bm.LowerBound(0))
	assert.True(t, engine.bm.ConsistentBounds())
	assert.Equal(t, 0, engine.ctx.Level())
}

func TestCertificatePointerFollowsSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)
	engine.enableProofs()

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	engine.bm.SetLowerBound(0, -5)
	engine.bm.SetUpperBound(0, 5)
	engine.bm.SetUpperBound(1, 5)

	splits := relu.CaseSplits()
	tree := engine.tree

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()
	require.Equal(t, 3, tree.Size(), "root plus one child per phase")
	assert.Equal(t, tree.ChildBySplit(tree.Root(), splits[0]), engine.ptr)

	ok, err := smt.PopSplit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tree.ChildBySplit(tree.Root(), splits[1]), engine.ptr)

	ok, err = smt.PopSplit()
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, tree.Root(), engine.ptr)
}

func TestImpliedValidSplits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(4, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)

	var rootImplied PiecewiseLinearCaseSplit
	rootImplied.StoreBoundTightening(Tightening{Variable: 2, Value: 0, Kind: LB})
	require.NoError(t, smt.RecordImpliedValidSplit(rootImplied))

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()

	var levelImplied PiecewiseLinearCaseSplit
	levelImplied.StoreBoundTightening(Tightening{Variable: 3, Value: 1, Kind: UB})
	require.NoError(t, smt.RecordImpliedValidSplit(levelImplied))

	splits := relu.CaseSplits()
	all := smt.AllSplitsSoFar()
	require.Len(t, all, 3)
	assert.True(t, all[0].Equals(rootImplied))
	assert.True(t, all[1].Equals(splits[0]))
	assert.True(t, all[2].Equals(levelImplied))

	// Splits implied under the popped phase are discarded.
	ok, err := smt.PopSplit()
	require.NoError(t, err)
	require.True(t, ok)
	all = smt.AllSplitsSoFar()
	require.Len(t, all, 2)
	assert.True(t, all[0].Equals(rootImplied))
	assert.True(t, all[1].Equals(splits[1]))
}

func TestReplaySmtStackEntry(t *testing.T) {
	engine, smt := newSmtHarness(2, DefaultConfig())
	engine.snc = true

	var active PiecewiseLinearCaseSplit
	active.StoreBoundTightening(Tightening{Variable: 0, Value: 2, Kind: LB})
	var implied PiecewiseLinearCaseSplit
	implied.StoreBoundTightening(Tightening{Variable: 1, Value: 3, Kind: UB})

	entry := &SmtStackEntry{
		ActiveSplit:        active,
		ImpliedValidSplits: []PiecewiseLinearCaseSplit{implied},
	}
	smt.ReplaySmtStackEntry(entry)

	assert.Equal(t, 2.0, engine.bm.LowerBound(0))
	assert.Equal(t, 3.0, engine.bm.UpperBound(1))
	assert.Equal(t, 1, smt.StackDepth())

	state := smt.StoreSmtState()
	require.Len(t, state.Stack, 1)
	assert.True(t, state.Stack[0].ActiveSplit.Equals(active))
	require.Len(t, state.Stack[0].ImpliedValidSplits, 1)
	assert.Equal(t, uint64(1), state.StateID)
}

func TestStackDepthMatchesContextLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()
	assert.Equal(t, 1, smt.StackDepth())
	assert.Equal(t, engine.ctx.Level(), smt.StackDepth())

	// Outside snc mode a skewed context level is a programming error.
	engine.ctx.Push()
	assert.Panics(t, func() { smt.StackDepth() })
	engine.snc = true
	assert.NotPanics(t, func() { smt.StackDepth() })
}

func TestChooseViolatedConstraintForFixing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseLeastFix = true
	engine, smt := newSmtHarness(4, cfg)

	c1 := NewReLU(0, 1)
	c2 := NewReLU(2, 3)
	engine.addConstraint(c1)
	engine.addConstraint(c2)

	smt.ReportViolatedConstraint(c1)
	smt.ReportViolatedConstraint(c1)
	smt.ReportViolatedConstraint(c2)

	violated := []PiecewiseLinearConstraint{c1, c2}
	assert.Equal(t, c2, smt.ChooseViolatedConstraintForFixing(violated))

	cfg.UseLeastFix = false
	_, smtFirst := newSmtHarness(4, cfg)
	assert.Equal(t, c1, smtFirst.ChooseViolatedConstraintForFixing(violated))

	assert.Panics(t, func() { smt.ChooseViolatedConstraintForFixing(nil) })
}

func TestRejectedProposalsTriggerTrackerSplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseDeepSoILocalSearch = true
	cfg.DeepSoIRejectionThreshold = 2
	engine, smt := newSmtHarness(4, cfg)

	c1 := NewReLU(0, 1)
	c2 := NewReLU(2, 3)
	engine.addConstraint(c1)
	engine.addConstraint(c2)
	smt.InitializeScoreTrackerIfNeeded([]PiecewiseLinearConstraint{c1, c2})
	smt.UpdatePseudoImpact(c2, 10)
	assert.Equal(t, 5.0, smt.PseudoImpact(c2))

	smt.ReportRejectedPhasePatternProposal()
	assert.False(t, smt.NeedToSplit())
	smt.ReportRejectedPhasePatternProposal()
	require.True(t, smt.NeedToSplit())

	smt.PerformSplit()
	assert.False(t, c2.IsActive(), "highest pseudo-impact constraint is split")
	assert.True(t, c1.IsActive())
}

func TestRejectedProposalsWithoutTracker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeepSoIRejectionThreshold = 2
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)

	// Deep-SoI local search is off, so there is no score tracker. Crossing
	// the rejection threshold must still be safe; the engine's picker just
	// gets no tracker fallback.
	assert.NotPanics(t, func() {
		smt.ReportRejectedPhasePatternProposal()
		smt.ReportRejectedPhasePatternProposal()
	})
	assert.True(t, smt.NeedToSplit())
}

func TestDebuggingSolutionSkew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	smt.StoreDebuggingSolution(map[int]float64{0: 3})

	// An implied split contradicting the stored solution is fatal.
	var contradicting PiecewiseLinearCaseSplit
	contradicting.StoreBoundTightening(Tightening{Variable: 0, Value: 0, Kind: UB})
	err := smt.RecordImpliedValidSplit(contradicting)
	var dbgErr *DebuggingError
	require.True(t, errors.As(err, &dbgErr))
}

func TestPopFromCompliantStackIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	engine.bm.SetLowerBound(0, -5)
	engine.bm.SetUpperBound(0, 5)

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()

	// The active phase (b >= 0) agrees with the stored solution, so popping
	// away from it indicates a bug in the caller.
	smt.StoreDebuggingSolution(map[int]float64{0: 3})
	_, err := smt.PopSplit()
	var dbgErr *DebuggingError
	require.True(t, errors.As(err, &dbgErr))
}

func TestSmtCoreReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	engine.bm.SetUpperBound(0, 5)

	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()
	require.Equal(t, 1, engine.ctx.Level())

	smt.Reset()
	assert.Equal(t, 0, engine.ctx.Level())
	assert.Equal(t, 0, smt.StackDepth())
	assert.False(t, smt.NeedToSplit())
	assert.Empty(t, smt.AllSplitsSoFar())
	assert.Equal(t, 5.0, engine.bm.UpperBound(0))
}

func TestSmtStatistics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintViolationThreshold = 1
	engine, smt := newSmtHarness(2, cfg)

	stats := &Statistics{}
	smt.SetStatistics(stats)

	relu := NewReLU(0, 1)
	engine.addConstraint(relu)
	smt.ReportViolatedConstraint(relu)
	smt.PerformSplit()

	assert.Equal(t, uint64(1), stats.NumSplits)
	assert.Equal(t, uint64(1), stats.NumContextPushes)
	assert.Equal(t, uint64(1), stats.CurrentDecisionLevel)
	assert.Equal(t, uint64(1), stats.MaxDecisionLevel)

	ok, err := smt.PopSplit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.NumPops)
	assert.Equal(t, uint64(2), stats.NumVisitedTreeStates)
}
