package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/app/memory"
	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/condition"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/inmem"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/predicate"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/deeflow/internal/workflow"
)

// Store backends selectable with setting.json "store" or --store
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// testResultPrefix namespaces test statuses in working memory
const testResultPrefix = "test."

// runEnv bundles the stores of one run behind the repository interfaces
type runEnv struct {
	cfg   config.Config
	fs    afero.Fs
	store string
	runID string
	dir   string

	events   repository.StateLog
	cache    repository.ConditionCacheRepository
	feedback repository.FeedbackQueue
	memory   *memory.Store
	db       *sql.DB
}

// openRunEnv opens the stores of runID on the selected backend.
// Working memory stays in the run directory for every durable backend.
func openRunEnv(cfg config.Config, fs afero.Fs, store, runID string) (*runEnv, error) {
	if store == "" {
		store = cfg.Store()
	}
	rt := &runEnv{
		cfg:   cfg,
		fs:    fs,
		store: store,
		runID: runID,
		dir:   file.RunDir(cfg.Home(), runID),
	}

	switch store {
	case StoreFile:
		stores, err := file.OpenRun(fs, cfg.Home(), runID)
		if err != nil {
			return nil, err
		}
		stores.SetStrictFsync(cfg.StrictFsync())
		rt.events, rt.cache, rt.feedback = stores.Events, stores.Cache, stores.Feedback

	case StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		stores := sqlite.OpenRun(db, runID)
		rt.db = db
		rt.events, rt.cache, rt.feedback = stores.Events, stores.Cache, stores.Feedback

	case StoreMemory:
		rt.events, rt.cache, rt.feedback = inmem.NewStateLog(), inmem.NewConditionCache(), inmem.NewFeedbackQueue()
		rt.memory = memory.New()
		return rt, nil

	default:
		return nil, fmt.Errorf("unknown store %q (want file, sqlite or memory)", store)
	}

	mem, err := memory.Open(fs, filepath.Join(rt.dir, file.MemoryFile))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.memory = mem
	return rt, nil
}

// Close releases the database handle, if any
func (r *runEnv) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// evaluator builds the condition evaluator with predicates from the
// predicates directory and test results read from working memory
func (r *runEnv) evaluator() (*condition.Evaluator, error) {
	predicates, err := predicate.LoadDir(r.fs, r.cfg.PredicatesDir())
	if err != nil {
		return nil, err
	}
	if len(predicates) > 0 {
		app.GetLogger().Debug("loaded %d predicate(s) from %s", len(predicates), r.cfg.PredicatesDir())
	}
	return condition.NewEvaluator(
		condition.WithFs(r.fs),
		condition.WithTestResults(memoryTestResults{mem: r.memory}),
		condition.WithPredicates(predicates),
	), nil
}

// wire builds orchestrator, cache and feedback router for wf
func (r *runEnv) wire(wf *workflow.Workflow, actions engine.NodeExecutor) (*engine.Orchestrator, *engine.ConditionCache, error) {
	ev, err := r.evaluator()
	if err != nil {
		return nil, nil, err
	}
	conditions := engine.NewConditionCache(ev, r.cache, engine.WithTTL(int(r.cfg.ConditionCacheTTLSec())))
	orch := engine.NewOrchestrator(actions, r.events, conditions)
	orch.AttachRouter(engine.NewFeedbackRouter(orch, wf.Index, r.feedback, r.events, engine.FeedbackConfig{
		MaxRounds:     r.cfg.MaxFeedbackRounds(),
		MaxChainDepth: r.cfg.MaxFeedbackChainDepth(),
	}))
	return orch, conditions, nil
}

// execContext returns the root context of the run
func (r *runEnv) execContext() engine.ExecContext {
	return engine.ExecContext{RunID: r.runID, Memory: r.memory}
}

// memoryTestResults serves test_result conditions from "test.<key>" entries
type memoryTestResults struct {
	mem repository.WorkingMemory
}

func (m memoryTestResults) Status(_ context.Context, key string) (string, error) {
	if m.mem == nil {
		return "", errors.New("working memory is not available")
	}
	if v, ok := m.mem.Get(testResultPrefix + key); ok {
		return v, nil
	}
	return "unknown", nil
}

// applyLoopDefaults gives loops without timeout_seconds the configured default
func applyLoopDefaults(root *node.Node, timeoutSec int) {
	if root == nil || timeoutSec <= 0 {
		return
	}
	root.Walk(func(n *node.Node) bool {
		if n.Kind == node.KindLoop && n.Loop != nil && n.Loop.TimeoutSeconds == 0 {
			n.Loop.TimeoutSeconds = timeoutSec
		}
		return true
	})
}
