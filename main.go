package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nnverify/plinth/dnc"
	"github.com/nnverify/plinth/engine"
	"github.com/nnverify/plinth/solver"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "plinth",
		Short:         "plinth verifies properties of piecewise-linear neural networks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSolveCmd(), newVersionCmd())
	return root
}

func newSolveCmd() *cobra.Command {
	var (
		timeout      time.Duration
		workers      int
		divideRounds int
		verbose      bool
		proofs       bool
		leastFix     bool
		implicit     bool
	)

	cmd := &cobra.Command{
		Use:   "solve <query.json>",
		Short: "Solve a verification query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetOutput(cmd.ErrOrStderr())
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			query, err := engine.ParseQueryFile(args[0])
			if err != nil {
				return err
			}

			cfg := solver.DefaultConfig()
			cfg.ProduceProofs = proofs
			cfg.UseLeastFix = leastFix
			if implicit {
				cfg.BoundTighteningType = solver.UseImplicitInvertedBasisMatrix
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			start := time.Now()
			var status solver.Status
			var witness []float64

			if workers > 1 {
				res, err := dnc.Solve(ctx, query, dnc.Config{
					Workers:      workers,
					DivideRounds: divideRounds,
					Timeout:      timeout,
					Solver:       cfg,
				}, logger)
				if err != nil {
					return err
				}
				status, witness = res.Status, res.Witness
			} else {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				e, err := engine.New(query, cfg, logger)
				if err != nil {
					return err
				}
				status, witness, err = e.Solve(ctx)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "s %s\n", status)
			if status == solver.Sat {
				for v, value := range witness {
					fmt.Fprintf(out, "v x%d = %g\n", v, value)
				}
			}
			fmt.Fprintf(out, "c solved in %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the search after this duration")
	cmd.Flags().IntVar(&workers, "workers", 1, "solve with divide and conquer on this many workers")
	cmd.Flags().IntVar(&divideRounds, "divide-rounds", 0, "input bisection rounds for divide and conquer")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log search progress")
	cmd.Flags().BoolVar(&proofs, "proofs", false, "maintain an UNSAT certificate tree")
	cmd.Flags().BoolVar(&leastFix, "least-fix", false, "prefer fixing the constraint with the fewest violations")
	cmd.Flags().BoolVar(&implicit, "implicit-basis", false, "tighten through implicit inverted basis rows")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plinth %s\n", version)
		},
	}
}
