package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/executor"
	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/app/recovery"
	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/deeflow/internal/workflow"
)

// runLockTTL bounds how long a crashed holder can block a sqlite run
const runLockTTL = 6 * time.Hour

// ErrRunFailed is returned when a workflow finishes with a non-success status
var ErrRunFailed = errors.New("workflow did not succeed")

type runOptions struct {
	runID    string
	store    string
	dryRun   bool
	parallel int
	sets     []string
	workDir  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow",
		Long: `Execute a workflow tree and record every control-flow event.

Passing --run-id of an earlier run resumes it: working memory, the
condition cache and feedback rounds carry over, and nodes whose latest
completion succeeded are skipped. A loop that did not finish restarts
its iterations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorkflow(ctx, c.OutOrStdout(), globalConfig, appFs, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run id (default: new ULID)")
	cmd.Flags().StringVar(&opts.store, "store", "", "state backend: file, sqlite or memory (default from setting.json)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "walk the tree without running commands; set values still apply")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 0, "run the children of a SEQUENCE root concurrently with this limit")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "seed working memory with key=value (repeatable)")
	cmd.Flags().StringVar(&opts.workDir, "workdir", "", "working directory for action commands")
	return cmd
}

func runWorkflow(ctx context.Context, out io.Writer, cfg config.Config, fs afero.Fs, path string, opts *runOptions) error {
	wf, err := workflow.Load(fs, path)
	if err != nil {
		return err
	}
	applyLoopDefaults(wf.Root, cfg.DefaultLoopTimeoutSec())

	seeds, err := parseSets(opts.sets)
	if err != nil {
		return err
	}

	runID := opts.runID
	if runID == "" {
		runID = ulid.Make().String()
	}
	store := opts.store
	if store == "" {
		store = cfg.Store()
	}
	persist := store != StoreMemory
	resumed := false

	if store == StoreFile {
		release, err := file.AcquireRunLock(fs, cfg.Home(), runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		defer func() {
			if err := release(); err != nil {
				app.GetLogger().Warn("release run lock %s: %v", runID, err)
			}
		}()
	}

	if persist {
		if prev, err := file.LoadManifest(fs, cfg.Home(), runID); err == nil {
			resumed = true
			app.GetLogger().Info("resuming run %s (last status %s)", runID, prev.Status)
			if store == StoreFile {
				truncated, err := recovery.RecoverRun(fs, cfg.Home(), runID)
				if err != nil {
					return err
				}
				for name, n := range truncated {
					if n > 0 {
						app.GetLogger().Warn("run %s: dropped %d torn bytes from %s", runID, n, name)
					}
				}
			}
		}
	}

	env, err := openRunEnv(cfg, fs, store, runID)
	if err != nil {
		return err
	}
	defer env.Close()

	if store == StoreSQLite {
		locks := sqlite.NewRunLocks(env.db)
		if _, err := locks.Acquire(ctx, runID, runLockTTL); err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		defer func() {
			if err := locks.Release(context.Background(), runID); err != nil {
				app.GetLogger().Warn("release run lock %s: %v", runID, err)
			}
		}()
	}

	keys := make([]string, 0, len(seeds))
	for k := range seeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := env.memory.Set(k, seeds[k]); err != nil {
			return fmt.Errorf("seed %s: %w", k, err)
		}
	}

	var actions engine.NodeExecutor
	if opts.dryRun {
		actions = executor.NewStatic(nil)
	} else {
		cmdExec := executor.NewCommand(cfg.ActionTimeout())
		cmdExec.WorkDir = opts.workDir
		actions = cmdExec
	}
	orch, conditions, err := env.wire(wf, actions)
	if err != nil {
		return err
	}

	manifest := file.Manifest{
		RunID:     runID,
		Workflow:  wf.Path,
		RootNode:  wf.Root.ID,
		Store:     store,
		Status:    file.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if persist {
		if err := file.SaveManifest(fs, cfg.Home(), manifest); err != nil {
			return err
		}
	}
	app.GetLogger().Info("run %s: executing %s (%s) on %s store", runID, wf.Name, wf.Root.ID, store)

	ec := env.execContext()
	if resumed {
		snap, err := buildSnapshot(ctx, env)
		if err != nil {
			return err
		}
		if done := snap.Succeeded(); len(done) > 0 {
			app.GetLogger().Info("run %s: skipping %d node(s) completed earlier", runID, len(done))
			ec = ec.WithCompleted(done)
		}
	}

	res, runErr := execute(ctx, orch, wf.Root, ec, opts.parallel)

	manifest.Status, manifest.Detail = finalStatus(res, runErr)
	manifest.FinishedAt = time.Now().UTC()
	if persist {
		if err := file.SaveManifest(fs, cfg.Home(), manifest); err != nil {
			app.GetLogger().Error("save manifest of %s: %v", runID, err)
		}
	}

	stats := conditions.Stats()
	fmt.Fprintf(out, "run %s: %s\n", runID, manifest.Status)
	if manifest.Detail != "" {
		fmt.Fprintf(out, "  %s\n", manifest.Detail)
	}
	fmt.Fprintf(out, "  condition cache: %d hit(s), %d miss(es)\n", stats.Hits, stats.Misses)

	if runErr != nil {
		return runErr
	}
	if !res.OK() {
		return fmt.Errorf("run %s: %w (%s)", runID, ErrRunFailed, res.Status)
	}
	return nil
}

// execute runs root, or its top-level children concurrently when parallel > 1
func execute(ctx context.Context, orch *engine.Orchestrator, root *node.Node, ec engine.ExecContext, parallel int) (flow.Result, error) {
	if parallel <= 1 || root.Kind != node.KindSequence || len(root.Children) < 2 {
		return orch.Execute(ctx, root, ec)
	}
	app.GetLogger().Info("running %d subtrees of %s with parallelism %d", len(root.Children), root.ID, parallel)
	results, err := engine.RunParallel(ctx, orch, root.Children, ec, parallel)
	if err != nil {
		return flow.Result{}, err
	}
	for i, r := range results {
		if !r.OK() {
			return flow.Result{Status: r.Status, Detail: fmt.Sprintf("%s: %s", root.Children[i].ID, r.Detail)}, nil
		}
	}
	return flow.Success(fmt.Sprintf("%d subtrees succeeded", len(results))), nil
}

func finalStatus(res flow.Result, err error) (file.RunStatus, string) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return file.RunAborted, err.Error()
		}
		return file.RunFailed, err.Error()
	}
	switch res.Status {
	case flow.StatusSuccess:
		return file.RunSucceeded, res.Detail
	case flow.StatusTimeout:
		return file.RunTimedOut, res.Detail
	default:
		return file.RunFailed, res.Detail
	}
}

// parseSets splits key=value pairs; the value may contain '='
func parseSets(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
