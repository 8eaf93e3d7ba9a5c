package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/replay"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E3B341"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B949E"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#30363D")).
			Padding(0, 1)
)

// openRunForRead loads the manifest of runID and opens its stores on the
// backend the run used, unless store overrides it
func openRunForRead(cfg config.Config, fs afero.Fs, runID, store string) (file.Manifest, *runEnv, error) {
	m, err := file.LoadManifest(fs, cfg.Home(), runID)
	if err != nil {
		return m, nil, fmt.Errorf("run %s not found: %w", runID, err)
	}
	if store == "" {
		store = m.Store
	}
	if store == StoreMemory {
		return m, nil, fmt.Errorf("run %s used the memory store; nothing was persisted", runID)
	}
	env, err := openRunEnv(cfg, fs, store, runID)
	if err != nil {
		return m, nil, err
	}
	return m, env, nil
}

func newStatusCmd() *cobra.Command {
	var store string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a run reconstructed from its logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, env, err := openRunForRead(globalConfig, appFs, args[0], store)
			if err != nil {
				return err
			}
			defer env.Close()

			snap, err := buildSnapshot(c.Context(), env)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Manifest   file.Manifest    `json:"manifest"`
					Snapshot   *replay.Snapshot `json:"snapshot"`
					Unfinished []string         `json:"unfinished"`
				}{m, snap, snap.Unfinished()})
			}
			fmt.Fprintln(c.OutOrStdout(), renderStatus(m, snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "override the backend recorded in the run manifest")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func buildSnapshot(ctx context.Context, env *runEnv) (*replay.Snapshot, error) {
	events, err := env.events.Events(ctx)
	if err != nil {
		return nil, err
	}
	history, err := env.feedback.History(ctx)
	if err != nil {
		return nil, err
	}
	return replay.Build(events, history), nil
}

func renderStatus(m file.Manifest, s *replay.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), m.RunID)
	fmt.Fprintf(&b, "Workflow: %s (root %s, %s store)\n", m.Workflow, m.RootNode, m.Store)
	fmt.Fprintf(&b, "Status:   %s", styleStatus(string(m.Status)))
	if m.Detail != "" {
		fmt.Fprintf(&b, " %s", mutedStyle.Render(m.Detail))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Events:   %d\n", s.Applied)

	if len(s.Nodes) > 0 {
		b.WriteString("\n" + titleStyle.Render("Nodes") + "\n")
		for _, id := range sortedKeys(s.Nodes) {
			v := s.Nodes[id]
			status := v.Status
			if v.Running {
				status = "running"
			}
			fmt.Fprintf(&b, "  %-24s %s\n", id, styleStatus(status))
		}
	}
	if len(s.Loops) > 0 {
		b.WriteString("\n" + titleStyle.Render("Loops") + "\n")
		for _, id := range sortedKeys(s.Loops) {
			v := s.Loops[id]
			fmt.Fprintf(&b, "  %-24s %s %d/%d\n", id, styleStatus(string(v.State)), v.Iteration, v.MaxIterations)
		}
	}
	if len(s.Conditionals) > 0 {
		b.WriteString("\n" + titleStyle.Render("Conditionals") + "\n")
		for _, id := range sortedKeys(s.Conditionals) {
			v := s.Conditionals[id]
			fmt.Fprintf(&b, "  %-24s %t -> %s\n", id, v.Result, v.Branch)
		}
	}
	if len(s.Feedback) > 0 {
		b.WriteString("\n" + titleStyle.Render("Feedback") + "\n")
		for _, id := range sortedKeys(s.Feedback) {
			v := s.Feedback[id]
			fmt.Fprintf(&b, "  %s -> %s round %d %s", v.FromNode, v.ToNode, v.Round, styleStatus(string(v.Status)))
			if v.Reason != "" {
				fmt.Fprintf(&b, " %s", mutedStyle.Render("("+v.Reason+")"))
			}
			b.WriteString("\n")
		}
	}
	if unfinished := s.Unfinished(); len(unfinished) > 0 {
		fmt.Fprintf(&b, "\n%s %s\n", warnStyle.Render("Unfinished:"), strings.Join(unfinished, ", "))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func styleStatus(status string) string {
	switch status {
	case "success", "completed", string(feedback.StatusResolved):
		return okStyle.Render(status)
	case "failure", "error", "max_iterations", string(feedback.StatusFailed), "aborted":
		return failStyle.Render(status)
	case "timeout", "timed_out", "running", string(feedback.StatusQueued), string(feedback.StatusDelivered):
		return warnStyle.Render(status)
	default:
		return status
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect feedback messages of a run",
	}

	var store string
	var all bool
	list := &cobra.Command{
		Use:   "list <run-id>",
		Short: "List feedback messages in their latest status",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			_, env, err := openRunForRead(globalConfig, appFs, args[0], store)
			if err != nil {
				return err
			}
			defer env.Close()

			history, err := env.feedback.History(c.Context())
			if err != nil {
				return err
			}
			msgs := []feedback.Message(history)
			if !all {
				msgs = history.LatestByID()
			}
			printFeedback(c.OutOrStdout(), msgs)
			return nil
		},
	}
	list.Flags().StringVar(&store, "store", "", "override the backend recorded in the run manifest")
	list.Flags().BoolVar(&all, "all", false, "show every status change instead of the latest record")
	cmd.AddCommand(list)
	return cmd
}

func printFeedback(w io.Writer, msgs []feedback.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "no feedback")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %s -> %s  %s/%s  round %d  %s\n",
			m.ID, m.FromNode, m.ToNode, m.Type, m.Priority, m.Round, styleStatus(string(m.Status)))
		fmt.Fprintf(w, "    %s\n", m.Message)
		if m.Reason != "" {
			fmt.Fprintf(w, "    reason: %s\n", m.Reason)
		}
	}
}
