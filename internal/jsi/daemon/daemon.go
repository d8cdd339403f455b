// Package daemon exposes the supervisor over a local unix stream socket.
// One accepted connection is one request: the client sends an absolute input
// path terminated by newline or half-close, and receives the same verdict
// lines one-shot mode writes to standard output.
package daemon

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/output"
	"github.com/tjper/jsi/internal/jsi/solvers"
	"github.com/tjper/jsi/internal/jsi/supervisor"
	"github.com/tjper/jsi/internal/jsi/task"
	"github.com/tjper/jsi/internal/jsi/watch"
	"github.com/tjper/jsi/internal/log"
	"github.com/tjper/jsi/internal/validator"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// logger is an object for logging package events to stderr.
var logger = log.New(os.Stderr, "daemon")

var (
	// ErrAlreadyRunning indicates a live daemon instance owns the socket.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning indicates no live daemon instance was found.
	ErrNotRunning = errors.New("daemon not running")
)

const (
	// DefaultMaxInflight bounds concurrently served requests. Excess
	// connections are answered with a busy error.
	DefaultMaxInflight = 16
	// DefaultIdleTimeout drops connections that send no request bytes.
	DefaultIdleTimeout = 5 * time.Second
	// shutdownGrace bounds how long shutdown waits for in-flight requests
	// to reap their children before the KILL sweep.
	shutdownGrace = 5 * time.Second
	// watchTick is the solver definitions poll interval.
	watchTick = 2 * time.Second
	// busyResponse is sent to connections over the in-flight bound.
	busyResponse = "error: busy\n"
	// daemonDirMode keeps the socket directory private to the owner.
	daemonDirMode = 0700
)

// Config carries daemon construction parameters.
type Config struct {
	// Paths locates the state directory, socket, and PID file.
	Paths jsi.Paths
	// MaxInflight bounds concurrent requests; zero means
	// DefaultMaxInflight.
	MaxInflight int
	// IdleTimeout drops request-less connections; zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
	// Solve is applied to every request served by this daemon.
	Solve supervisor.Options
}

// Probe reports whether a live daemon owns the state in paths. Liveness
// requires both an alive PID and a connectable socket; a PID file alone is
// never trusted.
func Probe(paths jsi.Paths) (running bool, pid int) {
	pid, err := readPIDFile(paths.PIDFile())
	if err != nil {
		return false, 0
	}
	if !alive(pid) {
		return false, pid
	}
	return connectable(paths.Socket()), pid
}

// New creates a Daemon instance: it detects stale instances, claims the
// socket and PID file, and pre-loads the solver catalogue. The caller must
// Serve and, eventually, Shutdown.
func New(cfg Config) (*Daemon, error) {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	if running, pid := Probe(cfg.Paths); running {
		return nil, errors.Wrapf(ErrAlreadyRunning, "pid: %d", pid)
	}

	if err := os.MkdirAll(cfg.Paths.DaemonDir(), daemonDirMode); err != nil {
		return nil, errors.Wrapf(err, "create daemon dir; path: %s", cfg.Paths.DaemonDir())
	}

	// Any leftover socket or PID file belongs to a dead instance.
	for _, stale := range []string{cfg.Paths.Socket(), cfg.Paths.PIDFile()} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "unlink stale; path: %s", stale)
		}
	}

	catalog, err := solvers.Load(cfg.Paths)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", cfg.Paths.Socket())
	if err != nil {
		return nil, errors.Wrapf(err, "listen; socket: %s", cfg.Paths.Socket())
	}

	if err := writePIDFile(cfg.Paths.PIDFile(), os.Getpid()); err != nil {
		listener.Close()
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		mutex:    new(sync.Mutex),
		sup:      supervisor.New(catalog),
		listener: listener,
		inflight: make(map[uuid.UUID]*task.Task),
		shutdown: make(chan struct{}),
	}, nil
}

// Daemon owns a single long-lived listening socket and a dynamic set of
// in-flight request tasks.
type Daemon struct {
	cfg Config

	mutex    *sync.Mutex
	sup      *supervisor.Supervisor
	listener net.Listener
	inflight map[uuid.UUID]*task.Task

	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Serve accepts connections until Shutdown. Accept-loop errors are logged
// and the loop continues; only a closed listener ends it.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := watch.NewModWatcher(d.cfg.Paths.Solvers())
	go func() {
		if err := watcher.Watch(ctx, watchTick); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("definitions watcher stopped; error: %s", err)
		}
	}()
	go d.reloadOnChange(ctx, watcher)

	logger.Infof("daemon serving; socket: %s, pid: %d", d.cfg.Paths.Socket(), os.Getpid())

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Errorf("accept; error: %s", err)
			continue
		}

		d.admit(conn)
	}
}

// admit registers the connection as an in-flight request and serves it on
// its own goroutine. Connections over the in-flight bound are answered with
// a busy error and closed.
func (d *Daemon) admit(conn net.Conn) {
	id := uuid.New()
	t := task.New()

	d.mutex.Lock()
	if len(d.inflight) >= d.cfg.MaxInflight {
		d.mutex.Unlock()
		logger.Warnf("over in-flight bound; dropping connection; bound: %d", d.cfg.MaxInflight)
		go func() {
			defer conn.Close()
			_, _ = io.WriteString(conn, busyResponse)
			// Consume the request so the close does not reset the
			// connection before the client has read the busy response.
			_, _ = readRequest(conn, d.cfg.IdleTimeout)
		}()
		return
	}
	d.inflight[id] = t
	d.mutex.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(id)
		d.handle(conn, id, t)
	}()
}

func (d *Daemon) release(id uuid.UUID) {
	d.mutex.Lock()
	delete(d.inflight, id)
	d.mutex.Unlock()
}

// handle serves a single connection: read the request path, race the
// solvers, write the verdict lines, close.
func (d *Daemon) handle(conn net.Conn, id uuid.UUID, t *task.Task) {
	defer conn.Close()
	defer t.Complete()

	input, err := readRequest(conn, d.cfg.IdleTimeout)
	if err != nil {
		logger.Warnf("read request; id: %s, error: %s", id, err)
		_, _ = io.WriteString(conn, "error: bad request\n")
		return
	}

	valid := validator.New()
	valid.Assert(input != "", "empty request")
	valid.Assert(filepath.IsAbs(input), "request path not absolute")
	valid.AssertFunc(func() bool {
		info, err := os.Stat(input)
		return err == nil && info.Mode().IsRegular()
	}, "request path not a regular file")
	if err := valid.Err(); err != nil {
		logger.Warnf("invalid request; id: %s, error: %s", id, err)
		_, _ = io.WriteString(conn, "error: "+err.Error()+"\n")
		return
	}

	logger.Infof("request accepted; id: %s, input: %s", id, input)

	outcome, err := d.sup.Solve(context.Background(), t, input, d.cfg.Solve)
	if err != nil {
		logger.Errorf("request failed; id: %s, error: %s", id, err)
		_, _ = io.WriteString(conn, output.VerdictLines(jsi.Error, ""))
		return
	}

	_, _ = io.WriteString(conn, output.VerdictLines(outcome.Verdict, outcome.Winner))
}

// readRequest reads one request: the bytes of a path, terminated by newline
// or client half-close, bounded by the idle deadline.
func readRequest(conn net.Conn, idle time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
		return "", err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	// Clear the deadline so a long solve does not fail the response write.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// reloadOnChange swaps in a freshly loaded catalogue whenever the solver
// definitions file changes. A failed load keeps the previous catalogue.
func (d *Daemon) reloadOnChange(ctx context.Context, watcher *watch.ModWatcher) {
	for {
		if err := watcher.WaitUntil(ctx); err != nil {
			return
		}
		catalog, err := solvers.Load(d.cfg.Paths)
		if err != nil {
			logger.Errorf("reload solver definitions; error: %s", err)
			continue
		}
		d.sup.SwapCatalog(catalog)
		logger.Infof("solver definitions reloaded; solvers: %s", strings.Join(catalog.Names(), ","))
	}
}

// Shutdown stops accepting, cancels every in-flight task, and waits up to
// the grace period for children to be reaped before sweeping with KILL. The
// socket and PID file are unlinked on the way out. Shutdown is idempotent.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(d.doShutdown)
}

func (d *Daemon) doShutdown() {
	close(d.shutdown)
	d.listener.Close()

	d.mutex.Lock()
	for _, t := range d.inflight {
		t.Cancel(task.Shutdown)
	}
	pending := len(d.inflight)
	d.mutex.Unlock()

	logger.Infof("daemon shutting down; in-flight: %d", pending)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warnf("shutdown grace exhausted; sweeping with KILL")
		d.Kill()
		<-done
	}

	d.removeState()
	logger.Infof("daemon stopped")
}

// Kill sweeps every live child process group with SIGKILL. Used when a
// second termination signal demands immediate exit.
func (d *Daemon) Kill() {
	d.sup.Registry().KillAll()
}

// removeState unlinks the socket and PID file.
func (d *Daemon) removeState() {
	for _, path := range []string{d.cfg.Paths.Socket(), d.cfg.Paths.PIDFile()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("unlink daemon state; path: %s, error: %s", path, err)
		}
	}
}
