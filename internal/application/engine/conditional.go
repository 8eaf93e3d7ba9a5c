package engine

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// ConditionalController routes a CONDITIONAL node to exactly one branch.
// It is not a recovery point: the branch result is returned unchanged.
type ConditionalController struct {
	cache *ConditionCache
	rec   recorder
}

// NewConditionalController creates a standalone controller
func NewConditionalController(conditions *ConditionCache, log repository.StateLog, now func() time.Time) *ConditionalController {
	if now == nil {
		now = time.Now
	}
	return &ConditionalController{cache: conditions, rec: recorder{log: log, now: now}}
}

// Run evaluates the condition once and executes the selected branch
func (c *ConditionalController) Run(ctx context.Context, n *node.Node, exec Executor, ec ExecContext) (flow.Result, error) {
	details := map[string]interface{}{"node_id": n.ID}
	if n.Condition == nil {
		return flow.Result{}, flow.ErrInvalidCondition.WithMessage("conditional %s has no condition", n.ID).WithDetails(details)
	}
	if err := node.ValidateDescriptor(*n.Condition); err != nil {
		return flow.Result{}, err
	}
	if n.Conditional == nil {
		return flow.Result{}, flow.ErrInvalidNode.WithMessage("conditional %s has no branches", n.ID).WithDetails(details)
	}

	result, err := c.cache.Evaluate(ctx, *n.Condition, n.ID, ec.Snapshot())
	if err != nil {
		return flow.Result{}, err
	}

	branch, target := "true", n.Conditional.TrueBranch
	if !result {
		branch, target = "false", n.Conditional.FalseBranch
	}
	if err := c.rec.record(ctx, ec, n.ID, event.TypeConditionalEval, map[string]interface{}{
		"result":    result,
		"branch":    branch,
		"condition": n.Condition.String(),
	}); err != nil {
		return flow.Result{}, err
	}

	if target == nil {
		details["branch"] = branch
		details["condition"] = n.Condition.String()
		return flow.Result{}, flow.ErrMissingBranch.
			WithMessage("conditional %s has no %s branch", n.ID, branch).
			WithDetails(details)
	}
	return exec.Execute(ctx, target, ec.WithRecovery(RecoveryStop))
}
