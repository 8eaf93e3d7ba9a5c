package app

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger is the printf-style port engine, stores and gateways log through.
// The CLI installs a leveled implementation at startup; embedders may
// install their own or Discard.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// stderrLogger is used until SetLogger is called. Debug and Info are
// dropped so a library caller sees only problems.
type stderrLogger struct {
	mu     sync.Mutex
	output io.Writer
}

func (l *stderrLogger) Debug(format string, args ...interface{}) {}

func (l *stderrLogger) Info(format string, args ...interface{}) {}

func (l *stderrLogger) Warn(format string, args ...interface{}) {
	l.write("WARN", format, args...)
}

func (l *stderrLogger) Error(format string, args ...interface{}) {
	l.write("ERROR", format, args...)
}

func (l *stderrLogger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.output, "deeflow %s: %s\n", level, fmt.Sprintf(format, args...))
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...interface{}) {}
func (discardLogger) Info(string, ...interface{})  {}
func (discardLogger) Warn(string, ...interface{})  {}
func (discardLogger) Error(string, ...interface{}) {}

// Discard drops every message
var Discard Logger = discardLogger{}

var (
	loggerMu     sync.RWMutex
	globalLogger Logger = &stderrLogger{output: os.Stderr}
)

// SetLogger replaces the process-wide logger; nil is ignored.
// Parallel subtrees log concurrently, so the swap is guarded.
func SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()
}

// GetLogger returns the current logger
func GetLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}
