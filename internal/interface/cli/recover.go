package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/app/recovery"
)

func newRecoverCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recover [run-id]",
		Short: "Truncate torn records left in run logs by a crash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()
			home := globalConfig.Home()

			if all {
				result, err := recovery.RecoverAllRuns(appFs, home)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "recovered %d run(s), dropped %d byte(s)\n", len(result.Truncated), result.TruncatedBytes())
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  %s\n", failStyle.Render(e.Error()))
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d run(s) could not be recovered", len(result.Errors))
				}
				return nil
			}

			if len(args) == 0 {
				return errors.New("specify a run id or --all")
			}
			truncated, err := recovery.RecoverRun(appFs, home, args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(truncated))
			for name := range truncated {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%-18s %d byte(s) dropped\n", name, truncated[name])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recover every run under the home directory")
	return cmd
}
