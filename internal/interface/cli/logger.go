package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LogLevel orders log messages by severity
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

// String returns the level name
func (l LogLevel) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger writes leveled printf-style messages to stderr (or any writer)
type Logger struct {
	mu         sync.RWMutex
	minLevel   LogLevel
	output     io.Writer
	timestamps bool
	now        func() time.Time
}

// NewLogger creates a logger with the given minimum level
func NewLogger(minLevel LogLevel, output io.Writer) *Logger {
	return &Logger{minLevel: minLevel, output: output, now: time.Now}
}

// SetLevel changes the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// GetLevel returns the current minimum log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minLevel
}

// SetTimestamps prefixes every line with an RFC3339 UTC timestamp
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = on
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.log(LogLevelDebug, format, args...) }

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) { l.log(LogLevelInfo, format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.log(LogLevelWarn, format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.log(LogLevelError, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.minLevel || l.output == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.timestamps {
		fmt.Fprintf(l.output, "%s %s: %s\n", l.now().UTC().Format(time.RFC3339), level, msg)
		return
	}
	fmt.Fprintf(l.output, "%s: %s\n", level, msg)
}

// LogLevelFromString parses a level name; unknown names mean warn
func LogLevelFromString(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error", "fatal":
		return LogLevelError
	default:
		return LogLevelWarn
	}
}
