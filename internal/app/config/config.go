package config

import "time"

// Config provides read-only access to application configuration.
// The app layer depends on this interface, never on how settings were loaded.
type Config interface {
	// Core settings
	Home() string  // Base directory for deeflow state (DEEFLOW_HOME)
	Store() string // State backend: "file", "sqlite" or "memory"
	SQLitePath() string
	StrictFsync() bool // Treat fsync failures as errors

	// Engine limits
	MaxFeedbackRounds() int
	MaxFeedbackChainDepth() int
	ConditionCacheTTLSec() int64
	DefaultLoopTimeoutSec() int
	ActionTimeout() time.Duration

	// Extensions
	PredicatesDir() string

	// Archive
	ArchiveBucket() string
	ArchivePrefix() string
	ArchiveRegion() string

	// Logging
	StderrLevel() string

	// Metadata
	ConfigSource() string // "json" or "default"
	SettingPath() string  // Path to setting.json if loaded from file
}

// Values carries every setting of an AppConfig
type Values struct {
	Home                  string
	Store                 string
	SQLitePath            string
	StrictFsync           bool
	MaxFeedbackRounds     int
	MaxFeedbackChainDepth int
	ConditionCacheTTLSec  int64
	DefaultLoopTimeoutSec int
	ActionTimeoutSec      int
	PredicatesDir         string
	ArchiveBucket         string
	ArchivePrefix         string
	ArchiveRegion         string
	StderrLevel           string
	ConfigSource          string
	SettingPath           string
}

// AppConfig is the concrete implementation of Config
type AppConfig struct {
	v Values
}

// NewAppConfig creates an AppConfig. Called by the infrastructure layer
// after loading and defaulting settings.
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{v: v}
}

// Home returns the base directory
func (c *AppConfig) Home() string { return c.v.Home }

// Store returns the state backend name
func (c *AppConfig) Store() string { return c.v.Store }

// SQLitePath returns the database path used by the sqlite backend
func (c *AppConfig) SQLitePath() string { return c.v.SQLitePath }

// StrictFsync returns whether fsync failures should be treated as errors
func (c *AppConfig) StrictFsync() bool { return c.v.StrictFsync }

// MaxFeedbackRounds returns the per-pair round limit
func (c *AppConfig) MaxFeedbackRounds() int { return c.v.MaxFeedbackRounds }

// MaxFeedbackChainDepth returns the maximum feedback chain depth
func (c *AppConfig) MaxFeedbackChainDepth() int { return c.v.MaxFeedbackChainDepth }

// ConditionCacheTTLSec returns the condition cache lifetime in seconds
func (c *AppConfig) ConditionCacheTTLSec() int64 { return c.v.ConditionCacheTTLSec }

// DefaultLoopTimeoutSec returns the timeout applied to loops that declare none
func (c *AppConfig) DefaultLoopTimeoutSec() int { return c.v.DefaultLoopTimeoutSec }

// ActionTimeout returns the default command timeout
func (c *AppConfig) ActionTimeout() time.Duration {
	return time.Duration(c.v.ActionTimeoutSec) * time.Second
}

// PredicatesDir returns the directory custom predicates are loaded from
func (c *AppConfig) PredicatesDir() string { return c.v.PredicatesDir }

// ArchiveBucket returns the S3 bucket for run archives
func (c *AppConfig) ArchiveBucket() string { return c.v.ArchiveBucket }

// ArchivePrefix returns the key prefix for run archives
func (c *AppConfig) ArchivePrefix() string { return c.v.ArchivePrefix }

// ArchiveRegion returns the AWS region override
func (c *AppConfig) ArchiveRegion() string { return c.v.ArchiveRegion }

// StderrLevel returns the stderr log level
func (c *AppConfig) StderrLevel() string { return c.v.StderrLevel }

// ConfigSource returns the source of configuration
func (c *AppConfig) ConfigSource() string { return c.v.ConfigSource }

// SettingPath returns the path to setting.json if loaded from file
func (c *AppConfig) SettingPath() string { return c.v.SettingPath }
