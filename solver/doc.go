/*
Package solver implements the search and deduction core of an SMT-style
solver for piecewise-linear constraint systems, as they arise when verifying
properties of ReLU-dominated neural networks.

A verification query is a system of linear constraints plus a set of
piecewise-linear constraints (ReLU, Abs, Sign, Max). The core searches for an
assignment satisfying all of them and answers Sat with a witness or Unsat.

The package provides three cooperating pieces:

1. A BoundManager holding the current lower and upper bound of every
variable, with a change log of tightenings and context-scoped save/restore
so that bound mutations made inside a decision level are reverted exactly
when that level is popped.

2. A RowBoundTightener that deduces tighter variable bounds from linear
rows. It can build the rows from an explicitly inverted basis matrix, from
forward transformations through the tableau's existing factorization, from
the original constraint matrix, or from the most recent pivot row. Whenever
a deduced bound crosses the opposite bound, it reports ErrInfeasible.

3. An SmtCore driving the decision search: it tracks per-constraint
violations and deep-SoI rejections to decide when to split, maintains a
stack of decision levels each holding the active case split and the
unexplored alternatives, and backtracks by popping the context and restoring
the engine state.

The engine that owns the tableau and applies splits is consumed through the
Engine and Tableau interfaces; the reference implementation lives in the
engine package.

A minimal search loop looks like:

	smt := solver.NewSmtCore(eng, cfg, logger)
	for {
		if err := tightener.ExamineBasisMatrix(true); err != nil {
			if ok, _ := smt.PopSplit(); !ok {
				return solver.Unsat
			}
			continue
		}
		// ... report violated constraints ...
		if smt.NeedToSplit() {
			smt.PerformSplit()
		}
	}
*/
package solver
