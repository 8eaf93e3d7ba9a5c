package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deeflow/internal/validator/common"
	"github.com/YoshitsuguKoike/deeflow/internal/validator/eventlog"
)

func newDoctorCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor <run-id>",
		Short: "Check the event log of a file-store run for corrupt or impossible records",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			runID := args[0]
			home := globalConfig.Home()
			m, err := file.LoadManifest(appFs, home, runID)
			if err != nil {
				return fmt.Errorf("run %s not found: %w", runID, err)
			}
			if m.Store != StoreFile {
				return fmt.Errorf("run %s uses the %s store; doctor checks file-store logs only", runID, m.Store)
			}

			path := filepath.Join(file.RunDir(home, runID), file.EventsFile)
			f, err := appFs.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			v := eventlog.NewValidator(path)
			result, err := v.ValidateFile(f)
			if err != nil {
				return err
			}

			out := c.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				for _, line := range result.Lines {
					for _, issue := range line.Issues {
						style := warnStyle
						if issue.Type == common.IssueError {
							style = failStyle
						}
						field := ""
						if issue.Field != "" {
							field = " " + issue.Field + ":"
						}
						fmt.Fprintf(out, "line %d %s%s %s\n", line.Line, style.Render(strings.ToUpper(issue.Type)), field, issue.Message)
					}
				}
				s := result.Summary
				fmt.Fprintf(out, "%d record(s): %d ok, %d warn, %d error\n", s.Lines, s.OK, s.Warn, s.Error)
				if unfinished := v.Unfinished(); len(unfinished) > 0 && m.Status != file.RunRunning {
					fmt.Fprintf(out, "%s nodes started but never completed: %s\n", warnStyle.Render("WARN"), strings.Join(unfinished, ", "))
				}
			}
			if result.Failed() {
				return fmt.Errorf("event log of %s has %d invalid record(s)", runID, result.Summary.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full validation result as JSON")
	return cmd
}
