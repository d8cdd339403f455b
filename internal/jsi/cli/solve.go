package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/output"
	"github.com/tjper/jsi/internal/jsi/solvers"
	"github.com/tjper/jsi/internal/jsi/supervisor"
	"github.com/tjper/jsi/internal/jsi/task"

	"github.com/pkg/errors"
)

type solveFlags struct {
	sequence  string
	timeout   float64
	fullRun   bool
	model     bool
	csv       bool
	outputDir string
}

// runSolve performs a one-shot request: resolve the catalogue, race the
// solvers, and write the verdict lines to standard output.
func runSolve(input string, flags solveFlags) error {
	input, err := filepath.Abs(input)
	if err != nil {
		return errors.WithStack(err)
	}
	info, err := os.Stat(input)
	if err != nil {
		return errors.Wrapf(err, "input file; path: %s", input)
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("input is not a regular file; path: %s", input)
	}

	paths, err := jsi.DefaultPaths()
	if err != nil {
		return errors.Wrap(err, "locate state directory")
	}

	catalog, err := solvers.Load(paths)
	if err != nil {
		return err
	}

	opts := supervisor.Options{
		Timeout:   time.Duration(flags.timeout * float64(time.Second)),
		Model:     flags.model,
		FullRun:   flags.fullRun,
		OutputDir: flags.outputDir,
	}
	if flags.sequence != "" {
		opts.Sequence = strings.Split(flags.sequence, ",")
	}
	if flags.csv {
		opts.CSVPath = output.CSVFile(input, flags.outputDir)
	}
	if flags.outputDir != "" {
		if err := os.MkdirAll(flags.outputDir, 0755); err != nil {
			return errors.Wrapf(err, "create output dir; path: %s", flags.outputDir)
		}
	}

	t := task.New()
	sup := supervisor.New(catalog)

	// First interrupt cancels cooperatively; a second escalates straight to
	// a KILL sweep of every live process group.
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case <-t.Done():
			return
		case sig := <-sigc:
			logger.Warnf("signal received; signal: %s", sig)
			t.Cancel(task.Interrupted)
		}
		select {
		case <-t.Done():
		case <-sigc:
			logger.Warnf("second signal; killing all solver process groups")
			sup.Registry().KillAll()
		}
	}()

	outcome, err := sup.Solve(context.Background(), t, input, opts)
	if err != nil {
		return err
	}

	// The only bytes ever written to standard output.
	fmt.Fprint(os.Stdout, output.VerdictLines(outcome.Verdict, outcome.Winner))

	for _, res := range outcome.Results {
		logger.Infof("solver finished; solver: %s, verdict: %s, exit: %d, time: %s, cancelled: %t",
			res.Solver, res.Verdict, res.ExitCode, res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond), res.Cancelled)
	}
	if outcome.Disagreement {
		logger.Warnf("solvers disagreed on a definitive verdict; inspect per-solver output files")
	}

	if t.Reason() == task.Interrupted {
		return errInterrupted
	}
	switch {
	case outcome.Winner != "":
		return nil
	case outcome.Verdict == jsi.Unknown:
		return errUnknownOutcome
	default:
		return errors.Errorf("all solvers failed; input: %s", input)
	}
}
