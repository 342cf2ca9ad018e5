// Package dnc solves a query by divide and conquer: the input region is
// bisected into sub-queries solved by disjoint engine instances on
// parallel workers. The first satisfiable sub-query wins; the query is
// unsatisfiable only when every sub-query is.
package dnc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nnverify/plinth/engine"
	"github.com/nnverify/plinth/solver"
)

// Config controls the divide-and-conquer run.
type Config struct {
	// Workers is the number of parallel solver instances. Zero or less
	// means one.
	Workers int
	// DivideRounds is how many times every sub-query is bisected before
	// solving; 2^DivideRounds sub-queries result. Zero picks enough rounds
	// to give each worker at least one sub-query.
	DivideRounds int
	// Timeout bounds the whole run; zero means none.
	Timeout time.Duration
	// Solver is the per-instance configuration.
	Solver solver.Config
}

// A Result is the aggregated outcome.
type Result struct {
	Status  solver.Status
	Witness []float64
}

// Solve runs the query under divide and conquer.
func Solve(ctx context.Context, q *engine.Query, cfg Config, logger logrus.FieldLogger) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	rounds := cfg.DivideRounds
	if rounds == 0 {
		for 1<<rounds < workers {
			rounds++
		}
	}

	subQueries := divide(q, rounds)
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"subQueries": len(subQueries),
			"workers":    workers,
		}).Info("starting divide and conquer")
	}

	queue := make(chan *engine.Query)
	group, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	result := Result{Status: solver.Unsat}
	sawIndet := false

	// gctx is cancelled on the first SAT (via the sentinel below) and on
	// worker errors, stopping the remaining workers early.
	errSatFound := errors.New("sat found")

	group.Go(func() error {
		defer close(queue)
		for _, sub := range subQueries {
			select {
			case queue <- sub:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		w := w
		group.Go(func() error {
			for sub := range queue {
				e, err := engine.New(sub, cfg.Solver, logger)
				if err != nil {
					return err
				}
				e.SetSnCMode(true)
				status, witness, err := e.Solve(gctx)
				if err != nil {
					return err
				}
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"worker": w,
						"status": status,
					}).Debug("sub-query finished")
				}
				switch status {
				case solver.Sat:
					mu.Lock()
					result = Result{Status: solver.Sat, Witness: witness}
					mu.Unlock()
					return errSatFound
				case solver.Indet:
					mu.Lock()
					sawIndet = true
					mu.Unlock()
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, errSatFound) {
		return Result{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	if result.Status != solver.Sat && sawIndet {
		return Result{Status: solver.Indet}, nil
	}
	return result, nil
}

// divide bisects the widest-interval input variable of every sub-query,
// rounds times. Queries without finitely bounded inputs are returned
// whole.
func divide(q *engine.Query, rounds int) []*engine.Query {
	queries := []*engine.Query{q}
	for r := 0; r < rounds; r++ {
		var next []*engine.Query
		for _, sub := range queries {
			lo, hi := bisect(sub)
			if lo == nil {
				next = append(next, sub)
				continue
			}
			next = append(next, lo, hi)
		}
		queries = next
	}
	return queries
}

// bisect splits sub on the input variable with the widest finite bound
// interval, or returns nils when no input qualifies.
func bisect(sub *engine.Query) (*engine.Query, *engine.Query) {
	bestVar := -1
	bestIdx := -1
	bestWidth := 0.0
	for i, b := range sub.Bounds {
		if !isInput(sub, b.Variable) || b.Lower == nil || b.Upper == nil {
			continue
		}
		if width := *b.Upper - *b.Lower; width > bestWidth {
			bestVar, bestIdx, bestWidth = b.Variable, i, width
		}
	}
	if bestVar < 0 {
		return nil, nil
	}

	mid := (*sub.Bounds[bestIdx].Lower + *sub.Bounds[bestIdx].Upper) / 2
	lo := cloneQuery(sub)
	hi := cloneQuery(sub)
	lo.Bounds[bestIdx].Upper = &mid
	hi.Bounds[bestIdx].Lower = &mid
	return lo, hi
}

func isInput(q *engine.Query, v int) bool {
	for _, in := range q.InputVariables {
		if in == v {
			return true
		}
	}
	return false
}

// cloneQuery copies the query deeply enough that bound edits on the copy
// never touch the original.
func cloneQuery(q *engine.Query) *engine.Query {
	out := *q
	out.Bounds = make([]engine.VariableBound, len(q.Bounds))
	copy(out.Bounds, q.Bounds)
	return &out
}
