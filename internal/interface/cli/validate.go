package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/workflow"
)

func newValidateCmd() *cobra.Command {
	var printSchema bool
	cmd := &cobra.Command{
		Use:   "validate [workflow.yaml]",
		Short: "Check a workflow file against the schema and tree rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()
			if printSchema {
				_, err := out.Write(workflow.Schema())
				return err
			}
			if len(args) == 0 {
				return fmt.Errorf("workflow file required")
			}

			wf, err := workflow.Load(appFs, args[0])
			if err != nil {
				return err
			}
			counts := make(map[node.Kind]int)
			wf.Root.Walk(func(n *node.Node) bool {
				counts[n.Kind]++
				return true
			})
			fmt.Fprintf(out, "%s %s: %d action(s), %d sequence(s), %d loop(s), %d conditional(s)\n",
				okStyle.Render("ok"), wf.Name,
				counts[node.KindAction], counts[node.KindSequence], counts[node.KindLoop], counts[node.KindConditional])
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSchema, "schema", false, "print the workflow JSON schema")
	return cmd
}
