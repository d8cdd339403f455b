package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/daemon"
	"github.com/tjper/jsi/internal/jsi/supervisor"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// askTimeout bounds a daemon client exchange.
const askTimeout = 10 * time.Minute

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the long-lived jsi daemon",
	}

	var (
		foreground  bool
		maxInflight int
		timeout     float64
	)
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the jsi daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground {
				return serveDaemon(maxInflight, timeout)
			}
			var extra []string
			if maxInflight != daemon.DefaultMaxInflight {
				extra = append(extra, "--max-inflight", strconv.Itoa(maxInflight))
			}
			if timeout > 0 {
				extra = append(extra, "--timeout", strconv.FormatFloat(timeout, 'f', -1, 64))
			}
			return runDaemonStart(extra)
		},
	}
	start.Flags().BoolVar(&foreground, "foreground", false, "serve in the foreground instead of detaching")
	start.Flags().IntVar(&maxInflight, "max-inflight", daemon.DefaultMaxInflight, "maximum concurrently served requests")
	start.Flags().Float64Var(&timeout, "timeout", 0, "per-request wall-clock budget in seconds")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running jsi daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := jsi.DefaultPaths()
			if err != nil {
				return errors.Wrap(err, "locate state directory")
			}
			if err := daemon.Stop(paths); err != nil {
				return err
			}
			logger.Infof("daemon stopped")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a jsi daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := jsi.DefaultPaths()
			if err != nil {
				return errors.Wrap(err, "locate state directory")
			}
			running, pid := daemon.Probe(paths)
			if !running {
				logger.Infof("daemon not running")
				return daemon.ErrNotRunning
			}
			logger.Infof("daemon running; pid: %d, socket: %s", pid, paths.Socket())
			return nil
		},
	}

	ask := &cobra.Command{
		Use:   "ask <input_file>",
		Short: "Send one request to a running jsi daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := jsi.DefaultPaths()
			if err != nil {
				return errors.Wrap(err, "locate state directory")
			}
			input, err := filepath.Abs(args[0])
			if err != nil {
				return errors.WithStack(err)
			}
			response, err := daemon.Ask(paths.Socket(), input, askTimeout)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, response)
			return exitForResponse(response)
		},
	}

	cmd.AddCommand(start, stop, status, ask)
	return cmd
}

// runDaemonStart detaches the daemon, forwarding any extra serve arguments.
func runDaemonStart(extra []string) error {
	paths, err := jsi.DefaultPaths()
	if err != nil {
		return errors.Wrap(err, "locate state directory")
	}
	if err := daemon.Detach(paths, extra...); err != nil {
		return err
	}
	logger.Infof("daemon started; socket: %s", paths.Socket())
	return nil
}

// newDaemonExecCmd is the hidden command the detached daemon process runs.
func newDaemonExecCmd() *cobra.Command {
	var (
		maxInflight int
		timeout     float64
	)
	cmd := &cobra.Command{
		Use:    jsi.DaemonExec,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveDaemon(maxInflight, timeout)
		},
	}
	cmd.Flags().IntVar(&maxInflight, "max-inflight", daemon.DefaultMaxInflight, "maximum concurrently served requests")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "per-request wall-clock budget in seconds")
	return cmd
}

// serveDaemon runs the daemon in the current process until SIGTERM. A second
// signal escalates to a KILL sweep and immediate exit.
func serveDaemon(maxInflight int, timeout float64) error {
	paths, err := jsi.DefaultPaths()
	if err != nil {
		return errors.Wrap(err, "locate state directory")
	}

	d, err := daemon.New(daemon.Config{
		Paths:       paths,
		MaxInflight: maxInflight,
		Solve: supervisor.Options{
			Timeout: time.Duration(timeout * float64(time.Second)),
		},
	})
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigc)

	errc := make(chan error, 1)
	go func() { errc <- d.Serve(context.Background()) }()

	select {
	case sig := <-sigc:
		logger.Infof("signal received; signal: %s", sig)
		stopped := make(chan struct{})
		go func() {
			d.Shutdown()
			close(stopped)
		}()
		select {
		case <-stopped:
			<-errc
			return nil
		case <-sigc:
			logger.Warnf("second signal; killing all solver process groups")
			d.Kill()
			return errors.New("daemon terminated forcefully")
		}
	case err := <-errc:
		d.Shutdown()
		return err
	}
}

// exitForResponse maps a daemon response onto the one-shot exit contract.
func exitForResponse(response string) error {
	verdict, _, _ := strings.Cut(response, "\n")
	switch strings.TrimSpace(verdict) {
	case "sat", "unsat":
		return nil
	case "unknown":
		return errUnknownOutcome
	default:
		return errors.Errorf("daemon reported failure; response: %q", verdict)
	}
}
