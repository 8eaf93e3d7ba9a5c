package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/deeflow/internal/infra/config"
	"github.com/YoshitsuguKoike/deeflow/internal/interface/cli/version"
)

var (
	// globalConfig holds the loaded configuration for all commands
	globalConfig config.Config

	// appFs is the filesystem every command reads and writes through
	appFs afero.Fs = afero.NewOsFs()
)

// NewRoot builds the deeflow command tree
func NewRoot() *cobra.Command {
	var logLevel string
	var timestamps bool

	cmd := &cobra.Command{
		Use:           "deeflow",
		Short:         "Hierarchical workflow control-flow engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			// Priority: setting.json > defaults; DEEFLOW_HOME only picks the directory
			cfg, err := infraConfig.LoadSettings(infraConfig.ResolveHome())
			if err != nil {
				return err
			}
			globalConfig = cfg

			level := cfg.StderrLevel()
			if logLevel != "" {
				level = logLevel
			}
			logger := NewLogger(LogLevelFromString(level), c.ErrOrStderr())
			logger.SetTimestamps(timestamps)
			InitializeLoggers(logger)
			logger.Debug("config loaded from %s (%s)", cfg.SettingPath(), cfg.ConfigSource())
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "stderr log level (debug|info|warn|error), overrides stderr_level")
	cmd.PersistentFlags().BoolVar(&timestamps, "log-timestamps", false, "prefix log lines with UTC timestamps")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newFeedbackCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(version.NewCommand())
	return cmd
}
