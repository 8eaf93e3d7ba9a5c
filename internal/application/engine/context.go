// Package engine executes workflow node trees.
//
// The Orchestrator dispatches on node kind and hands LOOP and CONDITIONAL
// nodes to their controllers, passing itself as the recursive executor.
// Every invocation is recorded in the StateLog; conditions go through the
// ConditionCache; backwards feedback goes through the FeedbackRouter.
package engine

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// RecoveryPolicy decides whether a SEQUENCE advances past a failed child
type RecoveryPolicy int

const (
	// RecoveryStop propagates the first child failure
	RecoveryStop RecoveryPolicy = iota
	// RecoveryContinue runs remaining children and reports failure at the end
	RecoveryContinue
)

// String returns the policy name
func (p RecoveryPolicy) String() string {
	if p == RecoveryContinue {
		return "continue"
	}
	return "stop"
}

// ExecContext is the per-invocation execution context passed down the tree
type ExecContext struct {
	RunID    string
	Memory   repository.WorkingMemory
	Recovery RecoveryPolicy

	// Feedback is set while an ancestor is re-executed to apply a fix
	Feedback *feedback.Message

	// Completed holds nodes whose latest completion in an earlier attempt of
	// the run succeeded; Execute skips them. Loop bodies and feedback passes
	// never skip.
	Completed map[string]bool

	inFeedbackCycle bool
}

// WithRecovery returns a copy using policy p
func (ec ExecContext) WithRecovery(p RecoveryPolicy) ExecContext {
	ec.Recovery = p
	return ec
}

// WithFeedback returns a copy carrying msg for the fix pass
func (ec ExecContext) WithFeedback(msg *feedback.Message) ExecContext {
	ec.Feedback = msg
	return ec
}

// InFeedbackCycle reports whether this invocation is a fix or verify pass
func (ec ExecContext) InFeedbackCycle() bool {
	return ec.inFeedbackCycle
}

func (ec ExecContext) feedbackCycle() ExecContext {
	ec.inFeedbackCycle = true
	ec.Completed = nil
	return ec
}

// WithCompleted returns a copy that skips the given nodes
func (ec ExecContext) WithCompleted(ids map[string]bool) ExecContext {
	ec.Completed = ids
	return ec
}

// Snapshot returns the working memory values, or an empty map
func (ec ExecContext) Snapshot() map[string]string {
	if ec.Memory == nil {
		return map[string]string{}
	}
	return ec.Memory.Snapshot()
}

// Executor executes any node; the Orchestrator is the production implementation
type Executor interface {
	Execute(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error)
}

// NodeExecutor runs ACTION nodes. It may be called again for the same node
// during a feedback fix-verify cycle and must tolerate that.
type NodeExecutor interface {
	Run(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error)
}

// NodeExecutorFunc adapts a function to NodeExecutor
type NodeExecutorFunc func(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error)

// Run implements NodeExecutor
func (f NodeExecutorFunc) Run(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error) {
	return f(ctx, n, ec)
}
