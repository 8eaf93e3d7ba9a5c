package executor

import (
	"context"
	"sync"

	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
)

// Static returns scripted results per node id; the last result repeats.
// Nodes without a script succeed. Set values apply on success, so loops
// and conditionals behave as in a real run.
type Static struct {
	mu      sync.Mutex
	scripts map[string][]flow.Result
	calls   map[string]int
}

// NewStatic creates a scripted executor
func NewStatic(scripts map[string][]flow.Result) *Static {
	if scripts == nil {
		scripts = make(map[string][]flow.Result)
	}
	return &Static{scripts: scripts, calls: make(map[string]int)}
}

// Run returns the next scripted result for n
func (s *Static) Run(ctx context.Context, n *node.Node, ec engine.ExecContext) (flow.Result, error) {
	if err := ctx.Err(); err != nil {
		return flow.Result{}, err
	}
	s.mu.Lock()
	i := s.calls[n.ID]
	s.calls[n.ID]++
	script := s.scripts[n.ID]
	s.mu.Unlock()

	res := flow.Success("dry run")
	if len(script) > 0 {
		if i >= len(script) {
			i = len(script) - 1
		}
		res = script[i]
	}
	if res.OK() {
		if err := applySet(ec, n); err != nil {
			return flow.Result{}, err
		}
	}
	return res, nil
}

// Calls returns how often id ran
func (s *Static) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}
