package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// BreakKey returns the working memory key that stops a manual_break loop
func BreakKey(loopID string) string {
	return "loop." + loopID + ".break"
}

// LoopController runs LOOP nodes with bounded iterations and time.
//
// Idle -> Running -> {Completed, MaxIterationsReached, TimedOut}. At the top
// of every iteration the iteration budget is checked first, then elapsed
// time, then context cancellation.
type LoopController struct {
	cache *ConditionCache
	rec   recorder
}

// NewLoopController creates a standalone controller
func NewLoopController(conditions *ConditionCache, log repository.StateLog, now func() time.Time) *LoopController {
	if now == nil {
		now = time.Now
	}
	return &LoopController{cache: conditions, rec: recorder{log: log, now: now}}
}

// Run executes the loop body until its exit test holds or a budget runs out
func (c *LoopController) Run(ctx context.Context, n *node.Node, exec Executor, ec ExecContext) (flow.Result, error) {
	spec, err := c.checkLoop(n)
	if err != nil {
		return flow.Result{}, err
	}
	maxIter := spec.MaxIterations
	timeout := time.Duration(spec.EffectiveTimeoutSeconds()) * time.Second
	exitOn := spec.EffectiveExitOn()

	start := c.rec.now()
	if err := c.rec.record(ctx, ec, n.ID, event.TypeLoopStart, map[string]interface{}{
		"max_iterations":  maxIter,
		"timeout_seconds": spec.EffectiveTimeoutSeconds(),
		"exit_on":         string(exitOn),
		"condition":       describe(n.Condition),
	}); err != nil {
		return flow.Result{}, err
	}

	childEC := ec.WithRecovery(RecoveryContinue).WithCompleted(nil)
	iteration := 0
	for {
		elapsed := c.rec.now().Sub(start)
		if iteration >= maxIter {
			detail := fmt.Sprintf("loop %s reached max iterations (%d) without meeting %s", n.ID, maxIter, exitOn)
			if err := c.rec.record(ctx, ec, n.ID, event.TypeLoopMaxIterations, c.terminalPayload(n, iteration, elapsed)); err != nil {
				return flow.Result{}, err
			}
			app.GetLogger().Warn("%s", detail)
			return flow.Failure(detail), nil
		}
		if elapsed >= timeout {
			detail := fmt.Sprintf("loop %s timed out after %d iterations (%s)", n.ID, iteration, timeout)
			if err := c.rec.record(ctx, ec, n.ID, event.TypeLoopTimeout, c.terminalPayload(n, iteration, elapsed)); err != nil {
				return flow.Result{}, err
			}
			app.GetLogger().Warn("%s", detail)
			return flow.Timeout(detail), nil
		}
		if err := ctx.Err(); err != nil {
			return flow.Result{}, err
		}

		iteration++
		childFailed := false
		for _, child := range n.Children {
			res, err := exec.Execute(ctx, child, childEC)
			if err != nil {
				return flow.Result{}, err
			}
			if !res.OK() {
				childFailed = true
			}
		}

		met, err := c.exitTest(ctx, n, exitOn, ec)
		if err != nil {
			return flow.Result{}, err
		}
		if err := c.rec.record(ctx, ec, n.ID, event.TypeLoopIteration, map[string]interface{}{
			"iteration":     iteration,
			"condition_met": met,
			"child_failed":  childFailed,
			"elapsed_ms":    c.rec.now().Sub(start).Milliseconds(),
		}); err != nil {
			return flow.Result{}, err
		}
		app.GetLogger().Debug("loop %s iteration %d/%d condition_met=%t", n.ID, iteration, maxIter, met)

		if exited(exitOn, met) {
			if err := c.rec.record(ctx, ec, n.ID, event.TypeLoopComplete, map[string]interface{}{
				"iteration": iteration,
			}); err != nil {
				return flow.Result{}, err
			}
			return flow.Success(fmt.Sprintf("loop %s completed after %d iterations", n.ID, iteration)), nil
		}
	}
}

func (c *LoopController) checkLoop(n *node.Node) (node.LoopSpec, error) {
	details := map[string]interface{}{"node_id": n.ID}
	if n.Loop == nil {
		return node.LoopSpec{}, flow.ErrInvalidNode.WithMessage("loop %s has no loop settings", n.ID).WithDetails(details)
	}
	spec := *n.Loop
	if spec.MaxIterations <= 0 {
		details["max_iterations"] = spec.MaxIterations
		return spec, flow.ErrInvalidNode.WithMessage("loop %s: max_iterations must be positive", n.ID).WithDetails(details)
	}
	if !spec.EffectiveExitOn().IsValid() {
		details["exit_on"] = string(spec.ExitOn)
		return spec, flow.ErrInvalidNode.WithMessage("loop %s: unknown exit_on %q", n.ID, spec.ExitOn).WithDetails(details)
	}
	if spec.EffectiveExitOn() == node.ExitOnManualBreak {
		return spec, nil
	}
	if n.Condition == nil {
		return spec, flow.ErrInvalidCondition.WithMessage("loop %s has no exit condition", n.ID).WithDetails(details)
	}
	if err := node.ValidateDescriptor(*n.Condition); err != nil {
		return spec, err
	}
	return spec, nil
}

// exitTest returns whether the loop's condition (or break signal) holds
func (c *LoopController) exitTest(ctx context.Context, n *node.Node, exitOn node.ExitOn, ec ExecContext) (bool, error) {
	if exitOn == node.ExitOnManualBreak {
		if ec.Memory == nil {
			return false, nil
		}
		v, ok := ec.Memory.Get(BreakKey(n.ID))
		return ok && truthy(v), nil
	}
	return c.cache.Evaluate(ctx, *n.Condition, n.ID, ec.Snapshot())
}

func (c *LoopController) terminalPayload(n *node.Node, iteration int, elapsed time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"iteration":      iteration,
		"max_iterations": n.Loop.MaxIterations,
		"elapsed_ms":     elapsed.Milliseconds(),
		"condition":      describe(n.Condition),
	}
}

func exited(exitOn node.ExitOn, met bool) bool {
	switch exitOn {
	case node.ExitOnConditionFalse:
		return !met
	default:
		return met
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

func describe(d *node.Descriptor) string {
	if d == nil {
		return ""
	}
	return d.String()
}
