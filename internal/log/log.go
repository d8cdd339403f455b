// Package log provides the leveled logging facility shared by all jsi
// packages. Records are written to standard error so that standard output
// stays reserved for the verdict contract.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
)

// Level represents a logging severity. Records below the process level are
// discarded.
type Level int32

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Critical
)

// EnvLevel is the environment variable consulted for the process log level.
const EnvLevel = "JSI_LOG_LEVEL"

// level is the process-wide minimum severity. Defaults to Info; overridden
// by EnvLevel at startup or SetLevel at runtime.
var level atomic.Int32

func init() {
	level.Store(int32(Info))
	if l, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		level.Store(int32(l))
	}
}

// SetLevel sets the process-wide minimum severity.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// ParseLevel maps a level name to its Level. The ok return value indicates
// whether the name was recognized.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return Trace, true
	case "DEBUG":
		return Debug, true
	case "INFO":
		return Info, true
	case "WARN", "WARNING":
		return Warn, true
	case "ERROR":
		return Error, true
	case "CRITICAL":
		return Critical, true
	default:
		return Info, false
	}
}

// New creates a Logger instance writing to w.
func New(w io.Writer, prefix string) *Logger {
	return &Logger{
		log.New(
			w,
			prefix+" ",
			log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC|log.Lmsgprefix,
		),
	}
}

// Logger represents a logging object that writes output to an io.Writer.
// Each logging operation makes a single call to the Writer's Write method.
// Logger is thread-safe; it guarantees to serialize access to the Writer.
type Logger struct {
	*log.Logger
}

// Criticalf prints a critical log-level message.
func (l Logger) Criticalf(msg string, args ...interface{}) {
	l.print(Critical, "CRITICAL", msg, args...)
}

// Errorf prints an error log-level message.
func (l Logger) Errorf(msg string, args ...interface{}) {
	l.print(Error, "ERROR", msg, args...)
}

// Warnf prints a warn log-level message.
func (l Logger) Warnf(msg string, args ...interface{}) {
	l.print(Warn, "WARN", msg, args...)
}

// Infof prints an info log-level message.
func (l Logger) Infof(msg string, args ...interface{}) {
	l.print(Info, "INFO", msg, args...)
}

// Debugf prints a debug log-level message.
func (l Logger) Debugf(msg string, args ...interface{}) {
	l.print(Debug, "DEBUG", msg, args...)
}

// Tracef prints a trace log-level message.
func (l Logger) Tracef(msg string, args ...interface{}) {
	l.print(Trace, "TRACE", msg, args...)
}

func (l Logger) print(lvl Level, tag, msg string, args ...interface{}) {
	if lvl < Level(level.Load()) {
		return
	}
	file, line := caller(3)
	l.Printf("[%s] %s:%d --- %s", tag, file, line, fmt.Sprintf(msg, args...))
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	parts := strings.Split(file, "/")

	// shorten file if it consists of more than 3 parts
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}
	if !ok {
		file = "???"
		line = 0
	}
	return file, line
}
