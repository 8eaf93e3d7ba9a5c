package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/app/memory"
	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/condition"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/inmem"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingEvaluator wraps the real evaluator and counts invocations
type countingEvaluator struct {
	mu    sync.Mutex
	calls int
	inner engine.ConditionEvaluator
}

func (e *countingEvaluator) Evaluate(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.inner.Evaluate(ctx, cond, snapshot)
}

func (e *countingEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// actionFunc scripts one ACTION node; call counts from 1
type actionFunc func(ctx context.Context, ec engine.ExecContext, call int) flow.Result

// scripted dispatches ACTION nodes by id
type scripted struct {
	mu      sync.Mutex
	actions map[string]actionFunc
	calls   map[string]int
}

func newScripted(actions map[string]actionFunc) *scripted {
	return &scripted{actions: actions, calls: make(map[string]int)}
}

func (s *scripted) Run(ctx context.Context, n *node.Node, ec engine.ExecContext) (flow.Result, error) {
	s.mu.Lock()
	s.calls[n.ID]++
	call := s.calls[n.ID]
	fn, ok := s.actions[n.ID]
	s.mu.Unlock()
	if !ok {
		return flow.Success(""), nil
	}
	return fn(ctx, ec, call), nil
}

func (s *scripted) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type harness struct {
	clock     *fakeClock
	log       *inmem.StateLog
	store     *inmem.ConditionCache
	queue     *inmem.FeedbackQueue
	mem       *memory.Store
	evaluator *countingEvaluator
	cache     *engine.ConditionCache
	actions   *scripted
	orch      *engine.Orchestrator
	router    *engine.FeedbackRouter
}

func newHarness(t *testing.T, root *node.Node, actions map[string]actionFunc) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		log:       inmem.NewStateLog(),
		store:     inmem.NewConditionCache(),
		queue:     inmem.NewFeedbackQueue(),
		mem:       memory.New(),
		evaluator: &countingEvaluator{inner: condition.NewEvaluator()},
		actions:   newScripted(actions),
	}
	h.cache = engine.NewConditionCache(h.evaluator, h.store, engine.WithCacheClock(h.clock.Now))
	h.orch = engine.NewOrchestrator(h.actions, h.log, h.cache, engine.WithClock(h.clock.Now))
	if root != nil {
		idx, err := node.NewIndex(root)
		require.NoError(t, err)
		h.router = engine.NewFeedbackRouter(h.orch, idx, h.queue, h.log, engine.DefaultFeedbackConfig()).
			WithRouterClock(h.clock.Now)
		h.orch.AttachRouter(h.router)
	}
	return h
}

func (h *harness) ec() engine.ExecContext {
	return engine.ExecContext{RunID: "run-test", Memory: h.mem}
}

func (h *harness) events(t *testing.T, typ event.Type) []event.Event {
	t.Helper()
	all, err := h.log.Events(context.Background())
	require.NoError(t, err)
	return event.Filter(all, event.OfType(typ))
}

func (h *harness) set(key, value string) {
	_ = h.mem.Set(key, value)
}

func setter(key, value string) actionFunc {
	return func(ctx context.Context, ec engine.ExecContext, call int) flow.Result {
		_ = ec.Memory.Set(key, value)
		return flow.Success("")
	}
}

func memEquals(key, expected string) *node.Descriptor {
	return &node.Descriptor{Type: node.ConditionMemoryCheck, Key: key, Operator: node.OpEquals, Expected: expected}
}

func newRealEvaluator() engine.ConditionEvaluator {
	return condition.NewEvaluator()
}
