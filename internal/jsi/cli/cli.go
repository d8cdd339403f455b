// Package cli defines the jsi command line interface.
package cli

import (
	"os"

	"github.com/tjper/jsi/internal/log"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// logger is an object for logging package events to stderr.
var logger = log.New(os.Stderr, "cli")

const (
	// ecSuccess indicates the request completed with a winner.
	ecSuccess = 0
	// ecUnknown indicates the request completed without a definitive
	// verdict.
	ecUnknown = 1
	// ecError indicates the request failed, including missing input.
	ecError = 2
	// ecInterrupted indicates the user interrupted the request.
	ecInterrupted = 130
)

var (
	// errUnknownOutcome indicates the race finished without a definitive
	// verdict.
	errUnknownOutcome = errors.New("no definitive verdict")
	// errInterrupted indicates the race was interrupted by the user.
	errInterrupted = errors.New("interrupted")
)

// Run is the entrypoint of the jsi CLI.
func Run() int {
	root := newRootCmd()
	err := root.Execute()
	switch {
	case err == nil:
		return ecSuccess
	case errors.Is(err, errUnknownOutcome):
		return ecUnknown
	case errors.Is(err, errInterrupted):
		return ecInterrupted
	default:
		return ecError
	}
}

func newRootCmd() *cobra.Command {
	var flags solveFlags
	var startDaemon bool

	root := &cobra.Command{
		Use:   "jsi <input_file>",
		Short: "Race a portfolio of SMT solvers against one problem",
		Long: `jsi launches the configured SMT solvers concurrently against a single
SMT-LIB 2 problem and reports the answer of the first solver to produce a
definitive verdict. Its wall-clock time is that of the fastest solver plus a
small supervision overhead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if startDaemon {
				return runDaemonStart(nil)
			}
			if len(args) != 1 {
				return errors.New("missing input file")
			}
			return runSolve(args[0], flags)
		},
	}

	root.Flags().StringVar(&flags.sequence, "sequence", "", "comma-separated solver names to race, in order")
	root.Flags().Float64Var(&flags.timeout, "timeout", 0, "wall-clock budget in seconds")
	root.Flags().BoolVar(&flags.fullRun, "full-run", false, "run every solver to completion instead of cancelling losers")
	root.Flags().BoolVar(&flags.model, "model", false, "request a model from solvers that support it")
	root.Flags().BoolVar(&flags.csv, "csv", false, "write a per-solver CSV summary next to the input, or into --output-dir")
	root.Flags().StringVar(&flags.outputDir, "output-dir", "", "directory for per-solver output files")
	root.Flags().BoolVar(&startDaemon, "daemon", false, "start the jsi daemon instead of solving")

	root.AddCommand(newDaemonCmd())
	root.AddCommand(newDaemonExecCmd())

	return root
}
