// Package supervisor coordinates one solver race: it spawns one command per
// resolved solver, resolves the winning verdict, terminates losers, and
// synthesises the request outcome.
package supervisor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/command"
	"github.com/tjper/jsi/internal/jsi/output"
	"github.com/tjper/jsi/internal/jsi/solvers"
	"github.com/tjper/jsi/internal/jsi/task"
	"github.com/tjper/jsi/internal/log"

	"golang.org/x/sync/errgroup"
)

// logger is an object for logging package events to stderr.
var logger = log.New(os.Stderr, "supervisor")

// Options carries the per-request knobs of a solve.
type Options struct {
	// Sequence selects and orders the participating solvers. Empty runs all
	// enabled solvers.
	Sequence []string
	// Timeout is the wall-clock budget measured from first spawn. Zero
	// disables the budget.
	Timeout time.Duration
	// Model requests model production from solvers that support it.
	Model bool
	// FullRun disables loser cancellation: every solver runs to completion,
	// still subject to Timeout.
	FullRun bool
	// CSVPath, if set, receives a per-solver summary written atomically.
	CSVPath string
	// OutputDir redirects per-solver stdout files away from the input's
	// directory.
	OutputDir string
}

// Outcome is the aggregate result of one request.
type Outcome struct {
	// Winner is the solver that produced the first definitive verdict.
	// Empty when no solver did.
	Winner string
	// Verdict is the request verdict: the winner's verdict, or unknown, or
	// error if every solver errored.
	Verdict jsi.Verdict
	// Elapsed is the wall-clock duration from first spawn to last reap.
	Elapsed time.Duration
	// Results holds one record per spawned command, in spawn order.
	Results []command.Result
	// Disagreement indicates two solvers produced conflicting definitive
	// verdicts.
	Disagreement bool
}

// New creates a Supervisor instance backed by the passed catalogue.
func New(catalog *solvers.Catalog) *Supervisor {
	return &Supervisor{
		mutex:    new(sync.RWMutex),
		catalog:  catalog,
		registry: command.NewRegistry(),
	}
}

// Supervisor races solver commands. A single Supervisor may serve many
// requests concurrently; requests share nothing beyond the catalogue and the
// process-group registry.
type Supervisor struct {
	mutex *sync.RWMutex

	catalog  *solvers.Catalog
	registry *command.Registry
}

// SwapCatalog replaces the catalogue used by subsequent requests. In-flight
// requests keep the catalogue they resolved against.
func (s *Supervisor) SwapCatalog(catalog *solvers.Catalog) {
	s.mutex.Lock()
	s.catalog = catalog
	s.mutex.Unlock()
}

func (s *Supervisor) currentCatalog() *solvers.Catalog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.catalog
}

// Registry exposes the live process-group registry for escalated
// termination (a second interrupt, daemon KILL sweep).
func (s *Supervisor) Registry() *command.Registry {
	return s.registry
}

// Solve races the catalogue's solvers against the input under the passed
// Task. It returns once every child has been reaped. Configuration and
// resolution failures abort before any spawn; per-solver failures are
// contained in the results.
func (s *Supervisor) Solve(ctx context.Context, t *task.Task, input string, opts Options) (*Outcome, error) {
	descriptors, err := s.currentCatalog().Resolve(opts.Sequence, input, solvers.ResolveOptions{
		Model:     opts.Model,
		OutputDir: opts.OutputDir,
	})
	if err != nil {
		t.Complete()
		return nil, err
	}

	t.Start()
	start := time.Now()

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
		go func() {
			timer := time.NewTimer(opts.Timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				if t.Cancel(task.Timeout) {
					logger.Infof("wall-clock budget elapsed; input: %s, budget: %s", input, opts.Timeout)
				}
			case <-t.Done():
			}
		}()
	}

	race := &race{mutex: new(sync.Mutex)}
	results := make([]command.Result, len(descriptors))

	var group errgroup.Group
	for i, desc := range descriptors {
		i, desc := i, desc
		group.Go(func() error {
			res := command.Run(ctx, desc, t, deadline, s.registry)
			race.observe(t, res, opts.FullRun)
			results[i] = res
			return nil
		})
	}
	// Commands never error; Wait is the all-children-reaped barrier.
	_ = group.Wait()
	// A command's own deadline timer can reap its child before the budget
	// goroutine fires; a request that outlived its budget records Timeout.
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		t.Cancel(task.Timeout)
	}
	t.Complete()

	outcome := &Outcome{
		Winner:       race.winner,
		Verdict:      race.verdict(results),
		Elapsed:      time.Since(start),
		Results:      results,
		Disagreement: race.disagreement,
	}

	if opts.CSVPath != "" {
		if err := output.WriteCSV(opts.CSVPath, csvRows(results)); err != nil {
			logger.Errorf("write csv summary; path: %s, error: %s", opts.CSVPath, err)
		}
	}

	logger.Infof("request complete; input: %s, winner: %q, verdict: %s, elapsed: %s",
		input, outcome.Winner, outcome.Verdict, outcome.Elapsed)
	return outcome, nil
}

// race is the winner slot shared by all command observers of one request.
type race struct {
	mutex *sync.Mutex

	winner       string
	won          jsi.Verdict
	disagreement bool
}

// observe commits the first definitive result as the winner and raises
// cancellation for the remaining commands. Later definitive results never
// override the winner; a conflicting one records a disagreement.
func (r *race) observe(t *task.Task, res command.Result, fullRun bool) {
	if !res.Verdict.Definitive() {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.winner == "" {
		r.winner = res.Solver
		r.won = res.Verdict
		if !fullRun {
			t.Cancel(task.WinnerFound)
		}
		return
	}
	if r.won != res.Verdict {
		r.disagreement = true
		logger.Warnf("solver disagreement; winner: %s says %s, loser: %s says %s",
			r.winner, r.won, res.Solver, res.Verdict)
	}
}

// verdict synthesises the request verdict. With no winner the request is
// unknown, or an error if every solver errored.
func (r *race) verdict(results []command.Result) jsi.Verdict {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.winner != "" {
		return r.won
	}
	allErrored := len(results) > 0
	for _, res := range results {
		if res.Verdict != jsi.Error {
			allErrored = false
			break
		}
	}
	if allErrored {
		return jsi.Error
	}
	return jsi.Unknown
}

func csvRows(results []command.Result) []output.Row {
	rows := make([]output.Row, 0, len(results))
	for _, res := range results {
		var size int64
		if info, err := os.Stat(res.StdoutPath); err == nil {
			size = info.Size()
		}
		rows = append(rows, output.Row{
			Solver:     res.Solver,
			Result:     res.Verdict,
			Exit:       res.ExitCode,
			Time:       res.EndedAt.Sub(res.StartedAt),
			OutputFile: res.StdoutPath,
			Size:       size,
		})
	}
	return rows
}
