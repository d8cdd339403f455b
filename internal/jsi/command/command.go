// Package command supervises a single solver child process: spawn in a
// fresh process group, capture output, enforce cancellation and deadline,
// reap, and classify the verdict.
package command

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/solvers"
	"github.com/tjper/jsi/internal/jsi/task"
	"github.com/tjper/jsi/internal/log"

	"golang.org/x/sys/unix"
)

// logger is an object for logging package events to stderr.
var logger = log.New(os.Stderr, "command")

const (
	// DefaultGrace is the window between SIGTERM and SIGKILL during
	// termination.
	DefaultGrace = time.Second
	// stderrLimit bounds the in-memory stderr capture.
	stderrLimit = 64 << 10
	// verdictPeek is how much of the stdout file is read for verdict
	// classification.
	verdictPeek = 64
	// noExit indicates a process has not exited, or was terminated by a
	// signal.
	noExit = -1
	// outputFileMode is the FileMode of solver stdout capture files.
	outputFileMode = 0644
)

// Result is the immutable record of one solver run.
type Result struct {
	// Solver is the logical solver name.
	Solver string
	// Verdict is the classification of the run.
	Verdict jsi.Verdict
	// ExitCode is the child's exit code; -1 if it was terminated by a
	// signal or never spawned.
	ExitCode int
	// StartedAt and EndedAt bound the run.
	StartedAt time.Time
	EndedAt   time.Time
	// StdoutPath is the file the solver's stdout was captured to.
	StdoutPath string
	// Stderr holds up to 64 KiB of the solver's stderr.
	Stderr []byte
	// Cancelled indicates termination was initiated by the supervisor
	// rather than natural exit.
	Cancelled bool
}

// Run launches the descriptor's solver and supervises it until it has been
// reaped. The child runs in a fresh process group so termination signals
// reach any helpers it spawns. Run never returns before the child has exited
// and its stdout file is closed. Spawn failures are contained: they yield a
// Result with an error verdict, not an error.
func Run(ctx context.Context, desc solvers.Descriptor, t *task.Task, deadline time.Time, reg *Registry) Result {
	res := Result{
		Solver:     desc.Name,
		ExitCode:   noExit,
		StartedAt:  time.Now(),
		StdoutPath: desc.StdoutPath,
	}

	stdout, err := os.OpenFile(desc.StdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, outputFileMode)
	if err != nil {
		logger.Errorf("open solver stdout file; solver: %s, error: %s", desc.Name, err)
		res.Verdict = jsi.Error
		res.EndedAt = time.Now()
		return res
	}

	stderr := newBoundedBuffer(stderrLimit)

	cmd := exec.Command(desc.Path, desc.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logger.Errorf("spawn solver; solver: %s, error: %s", desc.Name, err)
		stdout.Close()
		res.Verdict = jsi.Error
		res.EndedAt = time.Now()
		res.Stderr = stderr.bytes()
		return res
	}

	pgid := cmd.Process.Pid
	reg.add(pgid)
	defer reg.remove(pgid)

	logger.Debugf("solver running; solver: %s, pid: %d", desc.Name, pgid)

	waitc := make(chan error, 1)
	go func() { waitc <- cmd.Wait() }()

	// A zero deadline disables the timer; a nil channel never fires.
	var timerc <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timerc = timer.C
	}

	select {
	case <-waitc:
	case <-t.Cancelled():
		res.Cancelled = true
		terminate(desc.Name, pgid, waitc, DefaultGrace)
	case <-timerc:
		res.Cancelled = true
		terminate(desc.Name, pgid, waitc, DefaultGrace)
	case <-ctx.Done():
		res.Cancelled = true
		terminate(desc.Name, pgid, waitc, DefaultGrace)
	}

	res.ExitCode = cmd.ProcessState.ExitCode()

	// The stdout file must be closed before the result becomes observable.
	if err := stdout.Close(); err != nil {
		logger.Warnf("close solver stdout file; solver: %s, error: %s", desc.Name, err)
	}

	res.EndedAt = time.Now()
	res.Stderr = stderr.bytes()
	res.Verdict = classify(readVerdict(desc.StdoutPath), res.ExitCode, res.Cancelled, desc.VerdictMap)

	logger.Debugf("solver reaped; solver: %s, verdict: %s, exit: %d, cancelled: %t",
		desc.Name, res.Verdict, res.ExitCode, res.Cancelled)
	return res
}

// terminate signals the child's process group with SIGTERM, waits up to
// grace for the child to be reaped, and escalates to SIGKILL. terminate does
// not return until the child has been reaped.
func terminate(solver string, pgid int, waitc <-chan error, grace time.Duration) {
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		logger.Debugf("terminate solver group; solver: %s, pgid: %d, error: %s", solver, pgid, err)
	}

	select {
	case <-waitc:
		return
	case <-time.After(grace):
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		logger.Debugf("kill solver group; solver: %s, pgid: %d, error: %s", solver, pgid, err)
	}
	<-waitc
}

// readVerdict reads the head of the solver's stdout capture for
// classification.
func readVerdict(path string) []byte {
	fd, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer fd.Close()

	b := make([]byte, verdictPeek)
	n, _ := fd.Read(b)
	return b[:n]
}

// classify derives the verdict from the head of stdout and the exit code.
// A verdict map entry for the exit code overrides stdout classification.
// Stdout is authoritative otherwise: a solver that prints sat and then exits
// non-zero is still sat.
func classify(head []byte, exitCode int, cancelled bool, verdictMap map[string]jsi.Verdict) jsi.Verdict {
	if v, ok := verdictMap[strconv.Itoa(exitCode)]; ok {
		return v
	}

	switch firstToken(head) {
	case "sat":
		return jsi.Sat
	case "unsat":
		return jsi.Unsat
	case "unknown":
		return jsi.Unknown
	case "":
		// Empty output from a clean or supervisor-terminated exit is
		// unknown; from a failed solver it is an error.
		if cancelled || exitCode == 0 {
			return jsi.Unknown
		}
		return jsi.Error
	default:
		return jsi.Error
	}
}

// firstToken extracts the first whitespace-delimited token of b. A token cut
// off by the peek window is returned as far as it was read.
func firstToken(b []byte) string {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := start
	for end < len(b) && !isSpace(b[end]) {
		end++
	}
	return string(b[start:end])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
