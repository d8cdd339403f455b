package daemon

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Ask performs one daemon request: connect, stream the input path,
// half-close, and return the daemon's response. The passed timeout bounds
// the whole exchange; zero disables that bound, and the dial alone is then
// bounded by probeDialTimeout.
func Ask(socket, input string, timeout time.Duration) (string, error) {
	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = probeDialTimeout
	}
	conn, err := net.DialTimeout("unix", socket, dialTimeout)
	if err != nil {
		return "", errors.Wrapf(err, "dial daemon; socket: %s", socket)
	}
	defer conn.Close()

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return "", errors.WithStack(err)
		}
	}

	if _, err := io.WriteString(conn, input+"\n"); err != nil {
		return "", errors.Wrapf(err, "send request; input: %s", input)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return "", errors.WithStack(err)
		}
	}

	b, err := io.ReadAll(conn)
	if err != nil {
		return "", errors.Wrapf(err, "read response; input: %s", input)
	}
	return string(b), nil
}
