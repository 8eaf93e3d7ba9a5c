package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogLevelWarn, &buf)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("cache miss for %s", "loop")
	l.Error("boom")

	assert.Equal(t, "WARN: cache miss for loop\nERROR: boom\n", buf.String())

	buf.Reset()
	l.SetLevel(LogLevelDebug)
	l.Debug("visible")
	assert.Equal(t, "DEBUG: visible\n", buf.String())
	assert.Equal(t, LogLevelDebug, l.GetLevel())
}

func TestLogger_Timestamps(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogLevelInfo, &buf)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	l.SetTimestamps(true)

	l.Info("started")
	assert.Equal(t, "2026-01-02T03:04:05Z INFO: started\n", buf.String())
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		" INFO ":  LogLevelInfo,
		"warn":    LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"fatal":   LogLevelError,
		"":        LogLevelWarn,
		"loud":    LogLevelWarn,
	}
	for in, want := range tests {
		assert.Equal(t, want, LogLevelFromString(in), in)
	}
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestInitializeLoggers_BridgesAppLayer(t *testing.T) {
	prev := app.GetLogger()
	defer app.SetLogger(prev)

	var buf bytes.Buffer
	InitializeLoggers(NewLogger(LogLevelInfo, &buf))
	app.GetLogger().Info("from engine %s", "x")
	app.GetLogger().Debug("dropped")

	assert.Equal(t, "INFO: from engine x\n", buf.String())
}
