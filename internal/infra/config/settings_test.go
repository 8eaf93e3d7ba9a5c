package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingFile), []byte(content), 0o644))
}

func TestLoadSettings_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Home())
	assert.Equal(t, "file", cfg.Store())
	assert.Equal(t, filepath.Join(dir, "var", "deeflow.db"), cfg.SQLitePath())
	assert.Equal(t, 2, cfg.MaxFeedbackRounds())
	assert.Equal(t, 3, cfg.MaxFeedbackChainDepth())
	assert.Equal(t, int64(300), cfg.ConditionCacheTTLSec())
	assert.Equal(t, 600, cfg.DefaultLoopTimeoutSec())
	assert.Equal(t, 15*time.Minute, cfg.ActionTimeout())
	assert.Equal(t, filepath.Join(dir, "predicates"), cfg.PredicatesDir())
	assert.Equal(t, "warn", cfg.StderrLevel())
	assert.Equal(t, "deeflow", cfg.ArchivePrefix())
	assert.Equal(t, "default", cfg.ConfigSource())
	assert.Empty(t, cfg.SettingPath())
}

func TestLoadSettings_JSONOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{
  "store": "sqlite",
  "max_feedback_rounds": 4,
  "condition_cache_ttl_sec": 30,
  "archive_bucket": "runs",
  "stderr_level": "debug"
}`)

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store())
	assert.Equal(t, 4, cfg.MaxFeedbackRounds())
	assert.Equal(t, 3, cfg.MaxFeedbackChainDepth(), "unset keys keep defaults")
	assert.Equal(t, int64(30), cfg.ConditionCacheTTLSec())
	assert.Equal(t, "runs", cfg.ArchiveBucket())
	assert.Equal(t, "debug", cfg.StderrLevel())
	assert.Equal(t, "json", cfg.ConfigSource())
	assert.Equal(t, filepath.Join(dir, SettingFile), cfg.SettingPath())
}

func TestLoadSettings_HomeRedirectsDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"home": "/srv/deeflow"}`)

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/deeflow", cfg.Home())
	assert.Equal(t, filepath.Join("/srv/deeflow", "var", "deeflow.db"), cfg.SQLitePath())
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"store": `},
		{"unknown store", `{"store": "redis"}`},
		{"unknown level", `{"stderr_level": "loud"}`},
		{"zero rounds", `{"max_feedback_rounds": 0}`},
		{"negative ttl", `{"condition_cache_ttl_sec": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSettings(t, dir, tt.content)
			_, err := LoadSettings(dir)
			assert.Error(t, err)
		})
	}
}

func TestResolveHome(t *testing.T) {
	t.Setenv(HomeEnv, "")
	assert.Equal(t, DefaultHome, ResolveHome())

	t.Setenv(HomeEnv, "/tmp/flow")
	assert.Equal(t, "/tmp/flow", ResolveHome())
}

func TestCreateDefaultSettings_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingFile), CreateDefaultSettings(dir), 0o644))

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.ConfigSource())
	assert.Equal(t, 600, cfg.DefaultLoopTimeoutSec())
}
