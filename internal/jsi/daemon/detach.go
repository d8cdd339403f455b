package daemon

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tjper/jsi/internal/jsi"

	"github.com/pkg/errors"
)

// startupWait bounds how long Detach waits for the detached daemon's socket
// to become connectable.
const startupWait = 3 * time.Second

// Detach launches the daemon as a detached process: the current executable
// is re-executed in a new session with stdout and stderr redirected into the
// daemon directory. Extra arguments are forwarded to the daemon process.
// Detach returns once the daemon's socket accepts connections.
func Detach(paths jsi.Paths, extra ...string) error {
	if running, pid := Probe(paths); running {
		return errors.Wrapf(ErrAlreadyRunning, "pid: %d", pid)
	}

	if err := os.MkdirAll(paths.DaemonDir(), daemonDirMode); err != nil {
		return errors.Wrapf(err, "create daemon dir; path: %s", paths.DaemonDir())
	}

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "fetch current exec")
	}

	stdout, err := os.OpenFile(paths.DaemonStdout(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(paths.DaemonStderr(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stderr.Close()

	cmd := exec.Command(self, append([]string{jsi.DaemonExec}, extra...)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start detached daemon")
	}
	// The daemon now belongs to its own session; drop the handle so the
	// parent exits cleanly without reaping it.
	if err := cmd.Process.Release(); err != nil {
		return errors.WithStack(err)
	}

	deadline := time.Now().Add(startupWait)
	for time.Now().Before(deadline) {
		if connectable(paths.Socket()) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.Errorf("daemon socket not connectable; socket: %s", paths.Socket())
}

// Stop signals a running daemon with SIGTERM and waits for it to exit.
func Stop(paths jsi.Paths) error {
	running, pid := Probe(paths)
	if !running {
		return ErrNotRunning
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return errors.Wrapf(err, "signal daemon; pid: %d", pid)
	}

	deadline := time.Now().Add(shutdownGrace + time.Second)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.Errorf("daemon did not exit; pid: %d", pid)
}
