package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
)

// HomeEnv is the only environment variable consulted: it picks the home directory
const HomeEnv = "DEEFLOW_HOME"

// DefaultHome is used when HomeEnv is unset
const DefaultHome = ".deeflow"

// SettingFile is the settings file name inside the home directory
const SettingFile = "setting.json"

// RawSettings represents the structure of setting.json.
// Nil fields take their defaults.
type RawSettings struct {
	// Core settings
	Home        *string `json:"home"`
	Store       *string `json:"store"`
	SQLitePath  *string `json:"sqlite_path"`
	StrictFsync *bool   `json:"strict_fsync"`

	// Engine limits
	MaxFeedbackRounds     *int   `json:"max_feedback_rounds"`
	MaxFeedbackChainDepth *int   `json:"max_feedback_chain_depth"`
	ConditionCacheTTLSec  *int64 `json:"condition_cache_ttl_sec"`
	DefaultLoopTimeoutSec *int   `json:"default_loop_timeout_sec"`
	ActionTimeoutSec      *int   `json:"action_timeout_sec"`

	// Extensions
	PredicatesDir *string `json:"predicates_dir"`

	// Archive
	ArchiveBucket *string `json:"archive_bucket"`
	ArchivePrefix *string `json:"archive_prefix"`
	ArchiveRegion *string `json:"archive_region"`

	// Logging
	StderrLevel *string `json:"stderr_level"`
}

// ResolveHome returns DEEFLOW_HOME or the default home
func ResolveHome() string {
	if h := strings.TrimSpace(os.Getenv(HomeEnv)); h != "" {
		return h
	}
	return DefaultHome
}

// LoadSettings loads configuration from <baseDir>/setting.json.
// Priority: setting.json > defaults
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	jsonPath := filepath.Join(baseDir, SettingFile)
	data, err := os.ReadFile(jsonPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		configSource = "json"
		settingPath = jsonPath
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", jsonPath, err)
	}

	if settings.Home == nil {
		settings.Home = &baseDir
	}
	applyDefaults(settings)
	if err := validate(settings); err != nil {
		return nil, fmt.Errorf("%s: %w", jsonPath, err)
	}

	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings) {
	setString(&settings.Home, DefaultHome)
	home := *settings.Home

	setString(&settings.Store, "file")
	setString(&settings.SQLitePath, filepath.Join(home, "var", "deeflow.db"))
	if settings.StrictFsync == nil {
		v := false
		settings.StrictFsync = &v
	}

	setInt(&settings.MaxFeedbackRounds, 2)
	setInt(&settings.MaxFeedbackChainDepth, 3)
	if settings.ConditionCacheTTLSec == nil {
		v := int64(300)
		settings.ConditionCacheTTLSec = &v
	}
	setInt(&settings.DefaultLoopTimeoutSec, 600)
	setInt(&settings.ActionTimeoutSec, 900) // 15 minutes

	setString(&settings.PredicatesDir, filepath.Join(home, "predicates"))

	setString(&settings.ArchiveBucket, "")
	setString(&settings.ArchivePrefix, "deeflow")
	setString(&settings.ArchiveRegion, "")

	setString(&settings.StderrLevel, "warn")
}

func setString(p **string, def string) {
	if *p == nil {
		*p = &def
	}
}

func setInt(p **int, def int) {
	if *p == nil {
		*p = &def
	}
}

func validate(s *RawSettings) error {
	switch *s.Store {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("store must be file, sqlite or memory, got %q", *s.Store)
	}
	switch strings.ToLower(*s.StderrLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown stderr_level %q", *s.StderrLevel)
	}
	positive := map[string]int64{
		"max_feedback_rounds":      int64(*s.MaxFeedbackRounds),
		"max_feedback_chain_depth": int64(*s.MaxFeedbackChainDepth),
		"condition_cache_ttl_sec":  *s.ConditionCacheTTLSec,
		"default_loop_timeout_sec": int64(*s.DefaultLoopTimeoutSec),
		"action_timeout_sec":       int64(*s.ActionTimeoutSec),
	}
	for _, k := range []string{"max_feedback_rounds", "max_feedback_chain_depth", "condition_cache_ttl_sec", "default_loop_timeout_sec", "action_timeout_sec"} {
		if positive[k] <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", k, positive[k])
		}
	}
	return nil
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(s *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.Values{
		Home:                  *s.Home,
		Store:                 *s.Store,
		SQLitePath:            *s.SQLitePath,
		StrictFsync:           *s.StrictFsync,
		MaxFeedbackRounds:     *s.MaxFeedbackRounds,
		MaxFeedbackChainDepth: *s.MaxFeedbackChainDepth,
		ConditionCacheTTLSec:  *s.ConditionCacheTTLSec,
		DefaultLoopTimeoutSec: *s.DefaultLoopTimeoutSec,
		ActionTimeoutSec:      *s.ActionTimeoutSec,
		PredicatesDir:         *s.PredicatesDir,
		ArchiveBucket:         *s.ArchiveBucket,
		ArchivePrefix:         *s.ArchivePrefix,
		ArchiveRegion:         *s.ArchiveRegion,
		StderrLevel:           *s.StderrLevel,
		ConfigSource:          configSource,
		SettingPath:           settingPath,
	})
}

// CreateDefaultSettings returns the content of a default setting.json for home
func CreateDefaultSettings(home string) []byte {
	settings := &RawSettings{Home: &home}
	applyDefaults(settings)

	data, _ := json.MarshalIndent(settings, "", "  ")
	return append(data, '\n')
}
