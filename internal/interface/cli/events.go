package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

// followPoll is the fallback refresh interval while following a run
var followPoll = 500 * time.Millisecond

type eventsOptions struct {
	store  string
	nodeID string
	typ    string
	asJSON bool
	follow bool
}

func newEventsCmd() *cobra.Command {
	opts := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the state log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return showEvents(c.Context(), c.OutOrStdout(), appFs, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.store, "store", "", "override the backend recorded in the run manifest")
	cmd.Flags().StringVar(&opts.nodeID, "node", "", "only events of this node")
	cmd.Flags().StringVar(&opts.typ, "type", "", "only events of this type (e.g. loop_iteration)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print events as NDJSON")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep printing new events until the run finishes")
	return cmd
}

func showEvents(ctx context.Context, w io.Writer, fs afero.Fs, runID string, opts *eventsOptions) error {
	if opts.typ != "" && !event.Type(opts.typ).IsValid() {
		return fmt.Errorf("unknown event type %q", opts.typ)
	}
	m, env, err := openRunForRead(globalConfig, fs, runID, opts.store)
	if err != nil {
		return err
	}
	defer env.Close()

	p := &eventPrinter{w: w, opts: opts}
	if err := p.flush(ctx, env); err != nil {
		return err
	}
	if !opts.follow || m.Status != file.RunRunning {
		return nil
	}
	return followEvents(ctx, fs, env, p)
}

// eventPrinter prints the log suffix it has not printed yet
type eventPrinter struct {
	w       io.Writer
	opts    *eventsOptions
	printed int
}

func (p *eventPrinter) flush(ctx context.Context, env *runEnv) error {
	events, err := env.events.Events(ctx)
	if err != nil {
		return err
	}
	if p.printed > len(events) {
		p.printed = 0
	}
	for _, e := range events[p.printed:] {
		if p.opts.nodeID != "" && e.NodeID != p.opts.nodeID {
			continue
		}
		if p.opts.typ != "" && string(e.Type) != p.opts.typ {
			continue
		}
		if err := p.print(e); err != nil {
			return err
		}
	}
	p.printed = len(events)
	return nil
}

func (p *eventPrinter) print(e event.Event) error {
	if p.opts.asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "%s\n", data)
		return err
	}
	payload := ""
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	_, err := fmt.Fprintf(p.w, "%s  %-20s %-20s %s\n",
		e.Timestamp.Format("15:04:05.000"), e.NodeID, e.Type, mutedStyle.Render(payload))
	return err
}

// followEvents prints new events as the run directory changes and returns
// once the manifest leaves the running state. When the directory cannot be
// watched it polls.
func followEvents(ctx context.Context, fs afero.Fs, env *runEnv, p *eventPrinter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(env.dir); err != nil {
		app.GetLogger().Debug("watch %s unavailable, polling: %v", env.dir, err)
	}
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.GetLogger().Warn("watch %s: %v", env.dir, err)
			continue
		case <-ticker.C:
		}

		if err := p.flush(ctx, env); err != nil {
			return err
		}
		m, err := file.LoadManifest(fs, env.cfg.Home(), env.runID)
		if err == nil && m.Status != file.RunRunning {
			return p.flush(ctx, env)
		}
	}
}
