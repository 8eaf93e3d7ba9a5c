package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// SkippedDetail marks results of nodes skipped because an earlier attempt
// of the run completed them
const SkippedDetail = "completed in an earlier attempt"

// Orchestrator executes a node tree
type Orchestrator struct {
	actions      NodeExecutor
	rec          recorder
	loops        *LoopController
	conditionals *ConditionalController
	router       *FeedbackRouter
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for events and loop timeouts
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.rec.now = now }
}

// NewOrchestrator wires the controllers around the action executor
func NewOrchestrator(actions NodeExecutor, log repository.StateLog, conditions *ConditionCache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		actions: actions,
		rec:     recorder{log: log, now: time.Now},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.loops = &LoopController{cache: conditions, rec: o.rec}
	o.conditionals = &ConditionalController{cache: conditions, rec: o.rec}
	return o
}

// AttachRouter enables routing of feedback returned by ACTION nodes
func (o *Orchestrator) AttachRouter(r *FeedbackRouter) {
	o.router = r
}

// Execute runs n and records node_start / node_complete around it.
// The error return is reserved for configuration errors and store failures;
// ordinary failures and timeouts are results.
func (o *Orchestrator) Execute(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error) {
	if n == nil {
		return flow.Result{}, flow.ErrInvalidNode.WithMessage("nil node")
	}
	if ec.Completed[n.ID] {
		app.GetLogger().Info("node %s completed in an earlier attempt, skipping", n.ID)
		return flow.Success(SkippedDetail), nil
	}
	if err := o.rec.record(ctx, ec, n.ID, event.TypeNodeStart, map[string]interface{}{
		"kind": string(n.Kind),
	}); err != nil {
		return flow.Result{}, err
	}

	res, err := o.dispatch(ctx, n, ec)
	if err != nil {
		app.GetLogger().Error("node %s (%s) aborted: %v", n.ID, n.Kind, err)
		payload := map[string]interface{}{"status": "error", "error": err.Error()}
		if code := flow.CodeOf(err); code != "" {
			payload["code"] = code
		}
		if recErr := o.rec.record(ctx, ec, n.ID, event.TypeNodeComplete, payload); recErr != nil {
			app.GetLogger().Warn("failed to record completion of %s: %v", n.ID, recErr)
		}
		return flow.Result{}, err
	}

	if res.Feedback != nil && n.Kind == node.KindAction && o.router != nil && !ec.InFeedbackCycle() {
		res, err = o.routeFeedback(ctx, n, ec, res)
		if err != nil {
			return flow.Result{}, err
		}
	}

	if err := o.rec.record(ctx, ec, n.ID, event.TypeNodeComplete, map[string]interface{}{
		"status": string(res.Status),
		"detail": res.Detail,
	}); err != nil {
		return flow.Result{}, err
	}
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error) {
	switch n.Kind {
	case node.KindAction:
		if o.actions == nil {
			return flow.Result{}, flow.ErrInvalidNode.WithMessage("no executor for action %s", n.ID)
		}
		return o.actions.Run(ctx, n, ec)
	case node.KindSequence:
		return o.sequence(ctx, n, ec)
	case node.KindLoop:
		return o.loops.Run(ctx, n, o, ec)
	case node.KindConditional:
		return o.conditionals.Run(ctx, n, o, ec)
	default:
		return flow.Result{}, flow.ErrInvalidNode.
			WithMessage("unknown node kind %q", n.Kind).
			WithDetails(map[string]interface{}{"node_id": n.ID})
	}
}

func (o *Orchestrator) sequence(ctx context.Context, n *node.Node, ec ExecContext) (flow.Result, error) {
	var (
		failed      int
		firstFailed string
	)
	for _, child := range n.Children {
		if err := ctx.Err(); err != nil {
			return flow.Result{}, err
		}
		res, err := o.Execute(ctx, child, ec)
		if err != nil {
			return flow.Result{}, err
		}
		if res.OK() {
			continue
		}
		if ec.Recovery != RecoveryContinue {
			return res, nil
		}
		failed++
		if firstFailed == "" {
			firstFailed = fmt.Sprintf("%s: %s", child.ID, res.Detail)
		}
	}
	if failed > 0 {
		return flow.Failure(fmt.Sprintf("%d of %d children failed, first %s", failed, len(n.Children), firstFailed)), nil
	}
	return flow.Success(""), nil
}

func (o *Orchestrator) routeFeedback(ctx context.Context, n *node.Node, ec ExecContext, res flow.Result) (flow.Result, error) {
	msg := *res.Feedback
	if msg.FromNode == "" {
		msg.FromNode = n.ID
	}
	err := o.router.Route(ctx, ec, msg)
	if err == nil {
		return flow.Success(fmt.Sprintf("resolved via feedback to %s", msg.ToNode)), nil
	}
	if flow.CodeOf(err) == "" {
		return flow.Result{}, err
	}
	app.GetLogger().Warn("feedback from %s to %s not resolved: %v", msg.FromNode, msg.ToNode, err)
	res.Feedback = nil
	if res.Detail != "" {
		res.Detail += "; "
	}
	res.Detail += "feedback: " + err.Error()
	return res, nil
}
