// Command jsif is the minimal low-latency jsi daemon client: it streams one
// input path to the daemon socket, relays the response, and exits. It loads
// no configuration and parses no flags, keeping per-request overhead at the
// cost of one socket round trip.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjper/jsi/internal/jsi"
)

const (
	ecSuccess     = 0
	ecUnknown     = 1
	ecError       = 2
	ecUnreachable = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: jsif <input_file>")
		return ecError
	}

	input, err := filepath.Abs(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsif: %s\n", err)
		return ecError
	}

	paths, err := jsi.DefaultPaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsif: %s\n", err)
		return ecError
	}

	conn, err := net.Dial("unix", paths.Socket())
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsif: daemon unreachable: %s\n", err)
		return ecUnreachable
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, input+"\n"); err != nil {
		fmt.Fprintf(os.Stderr, "jsif: %s\n", err)
		return ecUnreachable
	}
	if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
		fmt.Fprintf(os.Stderr, "jsif: %s\n", err)
		return ecUnreachable
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsif: %s\n", err)
		return ecUnreachable
	}
	os.Stdout.Write(response)

	verdict, _, _ := strings.Cut(string(response), "\n")
	switch strings.TrimSpace(verdict) {
	case "sat", "unsat":
		return ecSuccess
	case "unknown":
		return ecUnknown
	default:
		return ecError
	}
}
