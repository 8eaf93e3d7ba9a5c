package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

// newRunArchive is replaced in tests
var newRunArchive = func(ctx context.Context, cfg config.Config) (*storage.RunArchive, error) {
	return storage.NewRunArchive(ctx, storage.S3Config{
		BucketName: cfg.ArchiveBucket(),
		Prefix:     cfg.ArchivePrefix(),
		Region:     cfg.ArchiveRegion(),
	})
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy finished runs to and from S3",
	}
	cmd.AddCommand(newArchivePushCmd(), newArchiveListCmd(), newArchiveRestoreCmd())
	return cmd
}

func newArchivePushCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "push <run-id>",
		Short: "Upload a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			runID := args[0]
			m, err := file.LoadManifest(appFs, globalConfig.Home(), runID)
			if err != nil {
				return fmt.Errorf("run %s not found: %w", runID, err)
			}
			if m.Status == file.RunRunning && !force {
				return fmt.Errorf("run %s is still running (use --force to archive anyway)", runID)
			}
			if m.Store == StoreSQLite {
				app.GetLogger().Warn("run %s keeps its events in %s; only the run directory is archived", runID, globalConfig.SQLitePath())
			}

			archive, err := newRunArchive(c.Context(), globalConfig)
			if err != nil {
				return err
			}
			am, err := archive.Upload(c.Context(), appFs, file.RunDir(globalConfig.Home(), runID), runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "archived %s: %d file(s) to s3://%s\n", runID, len(am.Files), am.Bucket)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "archive a run whose manifest still says running")
	return cmd
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived runs",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			archive, err := newRunArchive(c.Context(), globalConfig)
			if err != nil {
				return err
			}
			ids, err := archive.ListRuns(c.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no archived runs")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(c.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newArchiveRestoreCmd() *cobra.Command {
	var dest string
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <run-id>",
		Short: "Download an archived run and verify its digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			runID := args[0]
			if dest == "" {
				dest = file.RunDir(globalConfig.Home(), runID)
				if _, err := file.LoadManifest(appFs, globalConfig.Home(), runID); err == nil && !force {
					return fmt.Errorf("run %s already exists locally (use --force to overwrite)", runID)
				}
			}

			archive, err := newRunArchive(c.Context(), globalConfig)
			if err != nil {
				return err
			}
			am, err := archive.Restore(c.Context(), appFs, runID, dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "restored %s: %d file(s) to %s\n", runID, len(am.Files), dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "target directory (default: the run directory under home)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing local run")
	return cmd
}
