package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/embed"
	infraConfig "github.com/YoshitsuguKoike/deeflow/internal/infra/config"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the deeflow home with settings, an example workflow and a predicate",
		RunE: func(c *cobra.Command, _ []string) error {
			paths := app.ResolvePaths(globalConfig.Home())
			for _, d := range []string{paths.Runs, paths.Predicates, paths.Workflows} {
				if err := appFs.MkdirAll(d, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
			}

			templates, err := embed.GetTemplates()
			if err != nil {
				return err
			}
			templates = append(templates, embed.Template{
				Path:    infraConfig.SettingFile,
				Content: infraConfig.CreateDefaultSettings(paths.Home),
				Mode:    0o644,
			})

			out := c.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s:\n", paths.Home)
			for _, tmpl := range templates {
				res, err := embed.WriteTemplate(appFs, paths.Home, tmpl, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-14s %s\n", res.Action, filepath.Join(paths.Home, res.Path))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
