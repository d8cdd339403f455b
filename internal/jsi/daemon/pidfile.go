package daemon

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"golang.org/x/sys/unix"
)

// pidFileMode is the FileMode of the daemon PID file.
const pidFileMode = 0644

// probeDialTimeout bounds the socket connect probe used for liveness
// detection.
const probeDialTimeout = 250 * time.Millisecond

func writePIDFile(path string, pid int) error {
	b := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(path, b, pidFileMode); err != nil {
		return errors.Wrapf(err, "write pid file; path: %s", path)
	}
	return nil
}

func readPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "parse pid file; path: %s", path)
	}
	return pid, nil
}

// alive reports whether a process with the passed pid exists. Signal 0
// performs the existence check without delivering anything.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// connectable reports whether the passed unix socket accepts connections.
func connectable(socket string) bool {
	conn, err := net.DialTimeout("unix", socket, probeDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
