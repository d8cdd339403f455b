package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/solvers"
	"github.com/tjper/jsi/internal/jsi/task"
)

// shSolver is a solver definition backed by a shell one-liner.
func shSolver(name, script string) solvers.Definition {
	return solvers.Definition{
		Name:       name,
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Enabled:    true,
	}
}

// fixture writes the passed definitions into a temp state directory and
// loads a catalogue plus an input file from it.
func fixture(t *testing.T, defs ...solvers.Definition) (*solvers.Catalog, string) {
	t.Helper()

	root := t.TempDir()
	paths := jsi.NewPaths(filepath.Join(root, ".jsi"))
	if err := os.MkdirAll(paths.Root(), 0755); err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(map[string]interface{}{"solvers": defs})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.Solvers(), b, 0644); err != nil {
		t.Fatal(err)
	}

	input := filepath.Join(root, "problem.smt2")
	if err := os.WriteFile(input, []byte("(check-sat)\n"), 0644); err != nil {
		t.Fatal(err)
	}

	catalog, err := solvers.Load(paths)
	if err != nil {
		t.Fatal(err)
	}
	return catalog, input
}

func TestSolveSingleSat(t *testing.T) {
	catalog, input := fixture(t, shSolver("always-sat", "echo sat"))

	outcome, err := New(catalog).Solve(context.Background(), task.New(), input, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Winner != "always-sat" {
		t.Errorf("unexpected winner; actual: %s", outcome.Winner)
	}
	if outcome.Verdict != jsi.Sat {
		t.Errorf("unexpected verdict; actual: %s", outcome.Verdict)
	}
	if len(outcome.Results) != 1 {
		t.Errorf("unexpected result count; actual: %d", len(outcome.Results))
	}
}

func TestSolveRaceCancelsLosers(t *testing.T) {
	catalog, input := fixture(t,
		shSolver("fast-sat", "echo sat"),
		shSolver("slow-unknown", "sleep 5; echo unknown"),
	)

	start := time.Now()
	tk := task.New()
	outcome, err := New(catalog).Solve(context.Background(), tk, input, Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Winner != "fast-sat" {
		t.Errorf("unexpected winner; actual: %s", outcome.Winner)
	}
	if outcome.Verdict != jsi.Sat {
		t.Errorf("unexpected verdict; actual: %s", outcome.Verdict)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("expected loser cancellation to beat its sleep; elapsed: %s", elapsed)
	}
	if reason := tk.Reason(); reason != task.WinnerFound {
		t.Errorf("unexpected cancel reason; actual: %s", reason)
	}

	for _, res := range outcome.Results {
		if res.Solver == "slow-unknown" && !res.Cancelled {
			t.Error("expected slow-unknown to be cancelled")
		}
	}
}

func TestSolveAllUnknown(t *testing.T) {
	catalog, input := fixture(t,
		shSolver("a", "echo unknown"),
		shSolver("b", "echo unknown"),
	)

	tk := task.New()
	outcome, err := New(catalog).Solve(context.Background(), tk, input, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Winner != "" {
		t.Errorf("expected no winner; actual: %s", outcome.Winner)
	}
	if outcome.Verdict != jsi.Unknown {
		t.Errorf("unexpected verdict; actual: %s", outcome.Verdict)
	}
	if status := tk.Status(); status != task.Completed {
		t.Errorf("unexpected status; actual: %s", status)
	}
}

func TestSolveAllErrored(t *testing.T) {
	catalog, input := fixture(t,
		shSolver("a", "exit 1"),
		shSolver("b", "exit 2"),
	)

	outcome, err := New(catalog).Solve(context.Background(), task.New(), input, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Verdict != jsi.Error {
		t.Errorf("unexpected verdict; actual: %s", outcome.Verdict)
	}
}

func TestSolveTimeout(t *testing.T) {
	catalog, input := fixture(t, shSolver("sleeper", "sleep 30"))

	start := time.Now()
	tk := task.New()
	outcome, err := New(catalog).Solve(context.Background(), tk, input, Options{Timeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Verdict != jsi.Unknown {
		t.Errorf("unexpected verdict; actual: %s", outcome.Verdict)
	}
	if !outcome.Results[0].Cancelled {
		t.Error("expected cancelled result")
	}
	if reason := tk.Reason(); reason != task.Timeout {
		t.Errorf("unexpected cancel reason; actual: %s", reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected prompt timeout; elapsed: %s", elapsed)
	}
}

func TestSolveFullRun(t *testing.T) {
	catalog, input := fixture(t,
		shSolver("fast-sat", "echo sat"),
		shSolver("slow-unsat", "sleep 1; echo unsat"),
	)

	tk := task.New()
	outcome, err := New(catalog).Solve(context.Background(), tk, input, Options{FullRun: true})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Winner != "fast-sat" {
		t.Errorf("unexpected winner; actual: %s", outcome.Winner)
	}
	if !outcome.Disagreement {
		t.Error("expected disagreement flag")
	}
	for _, res := range outcome.Results {
		if res.Cancelled {
			t.Errorf("expected no cancellation in full run; solver: %s", res.Solver)
		}
	}
}

func TestSolveInterrupted(t *testing.T) {
	catalog, input := fixture(t,
		shSolver("a", "sleep 30"),
		shSolver("b", "sleep 30"),
		shSolver("c", "sleep 30"),
	)

	tk := task.New()
	go func() {
		time.Sleep(200 * time.Millisecond)
		tk.Cancel(task.Interrupted)
	}()

	start := time.Now()
	outcome, err := New(catalog).Solve(context.Background(), tk, input, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Winner != "" {
		t.Errorf("expected no winner; actual: %s", outcome.Winner)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected prompt teardown; elapsed: %s", elapsed)
	}
	for _, res := range outcome.Results {
		if !res.Cancelled {
			t.Errorf("expected cancelled result; solver: %s", res.Solver)
		}
	}
}

func TestSolveResolutionError(t *testing.T) {
	catalog, input := fixture(t, shSolver("a", "echo sat"))

	tk := task.New()
	_, err := New(catalog).Solve(context.Background(), tk, input, Options{Sequence: []string{"ghost"}})
	if err == nil {
		t.Error("expected resolution error")
	}
	if status := tk.Status(); status != task.Completed {
		t.Errorf("unexpected status; actual: %s", status)
	}
}

func TestSolveWritesCSV(t *testing.T) {
	catalog, input := fixture(t, shSolver("always-sat", "echo sat"))
	csvPath := fmt.Sprintf("%s.csv", input)

	_, err := New(catalog).Solve(context.Background(), task.New(), input, Options{CSVPath: csvPath})
	if err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("expected csv summary; error: %v", err)
	}
	if len(b) == 0 {
		t.Error("expected non-empty csv summary")
	}
}
