package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// maxChainHops caps the length of any path walked over feedback history
const maxChainHops = 10

// FeedbackConfig holds the loop-prevention bounds
type FeedbackConfig struct {
	MaxRounds     int
	MaxChainDepth int
}

// DefaultFeedbackConfig returns 2 rounds per pair and chains of at most 3 messages
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{MaxRounds: 2, MaxChainDepth: 3}
}

// FeedbackMemoryKey is where the fix payload for target is written
func FeedbackMemoryKey(target string) string {
	return "feedback." + target
}

// FeedbackRouter delivers backwards feedback to an ancestor and drives the
// fix-verify cycle. Per pair: None -> Queued -> Delivered -> {Resolved, Failed}.
type FeedbackRouter struct {
	exec  Executor
	index *node.Index
	queue repository.FeedbackQueue
	rec   recorder
	cfg   FeedbackConfig

	mu sync.Mutex
}

// NewFeedbackRouter creates a router over the static tree in index
func NewFeedbackRouter(exec Executor, index *node.Index, queue repository.FeedbackQueue, log repository.StateLog, cfg FeedbackConfig) *FeedbackRouter {
	def := DefaultFeedbackConfig()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = def.MaxChainDepth
	}
	return &FeedbackRouter{
		exec:  exec,
		index: index,
		queue: queue,
		rec:   recorder{log: log, now: time.Now},
		cfg:   cfg,
	}
}

// WithRouterClock replaces the wall clock
func (r *FeedbackRouter) WithRouterClock(now func() time.Time) *FeedbackRouter {
	r.rec.now = now
	return r
}

// Config returns the effective bounds
func (r *FeedbackRouter) Config() FeedbackConfig {
	return r.cfg
}

// Route validates msg, applies the loop-prevention checks and runs the
// fix-verify cycle. A nil error means the sender verified successfully.
func (r *FeedbackRouter) Route(ctx context.Context, ec ExecContext, msg feedback.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg = r.normalize(msg)
	if err := msg.Validate(); err != nil {
		app.GetLogger().Warn("rejected malformed feedback %s: %v", msg.ID, err)
		return flow.ErrInvalidFeedback.WithMessage("%v", err).WithDetails(map[string]interface{}{
			"message_id": msg.ID,
			"from_node":  msg.FromNode,
			"to_node":    msg.ToNode,
		})
	}

	history, err := r.queue.History(ctx)
	if err != nil {
		return fmt.Errorf("load feedback history: %w", err)
	}
	if check, refusal := r.admit(history, msg); refusal != nil {
		return r.refuse(ctx, ec, msg, check, refusal)
	}

	round := history.LatestRound(msg.Pair()) + 1
	for {
		msg.Round = round
		if err := r.transition(ctx, ec, msg, feedback.StatusQueued, ""); err != nil {
			return err
		}

		target, err := r.index.FindAncestor(msg.FromNode, msg.ToNode)
		if err != nil {
			return r.fail(ctx, ec, msg, err)
		}
		sender, ok := r.index.Find(msg.FromNode)
		if !ok {
			return r.fail(ctx, ec, msg, flow.ErrTargetNotAncestor.WithMessage("sender %s is not in the tree", msg.FromNode))
		}

		if err := r.transition(ctx, ec, msg, feedback.StatusDelivered, ""); err != nil {
			return err
		}

		verified, detail, err := r.fixAndVerify(ctx, ec, msg, target, sender)
		if err != nil {
			if ferr := r.transition(ctx, ec, msg, feedback.StatusFailed, err.Error()); ferr != nil {
				app.GetLogger().Warn("failed to record feedback failure for %s: %v", msg.ID, ferr)
			}
			return err
		}
		if verified {
			app.GetLogger().Info("feedback %s %s resolved in round %d", msg.ID, msg.Pair(), round)
			return r.transition(ctx, ec, msg, feedback.StatusResolved, "")
		}

		if round >= r.cfg.MaxRounds {
			exhausted := flow.ErrMaxRoundsExhausted.
				WithMessage("feedback %s %s not verified after %d rounds: %s", msg.ID, msg.Pair(), round, detail).
				WithDetails(map[string]interface{}{
					"message_id": msg.ID,
					"from_node":  msg.FromNode,
					"to_node":    msg.ToNode,
					"round":      round,
				})
			return r.fail(ctx, ec, msg, exhausted)
		}
		app.GetLogger().Info("feedback %s %s round %d not verified (%s), retrying", msg.ID, msg.Pair(), round, detail)
		round++
	}
}

func (r *FeedbackRouter) normalize(msg feedback.Message) feedback.Message {
	now := r.rec.now()
	msg.FromNode = node.NormalizeID(msg.FromNode)
	msg.ToNode = node.NormalizeID(msg.ToNode)
	if msg.ID == "" {
		msg.ID = feedback.NewID(now)
	}
	if msg.Priority == "" {
		msg.Priority = feedback.PriorityNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now.UTC()
	}
	msg.Status = ""
	msg.Reason = ""
	return msg
}

// admit runs the loop-prevention checks: round limit first, then the
// chain walk which reports cycles before depth.
func (r *FeedbackRouter) admit(history feedback.History, msg feedback.Message) (string, error) {
	details := map[string]interface{}{
		"message_id": msg.ID,
		"from_node":  msg.FromNode,
		"to_node":    msg.ToNode,
	}

	if latest := history.LatestRound(msg.Pair()); latest >= r.cfg.MaxRounds {
		details["round"] = latest
		details["max_rounds"] = r.cfg.MaxRounds
		return "round_limit", flow.ErrRoundLimitExceeded.
			WithMessage("%s already used %d of %d rounds", msg.Pair(), latest, r.cfg.MaxRounds).
			WithDetails(details)
	}

	chain, cyclic := walkChain(history, msg)
	details["chain"] = strings.Join(chain, "->")
	if cyclic {
		return "cycle", flow.ErrCycleDetected.
			WithMessage("feedback chain %s revisits %s", strings.Join(chain, "->"), chain[len(chain)-1]).
			WithDetails(details)
	}
	if depth := len(chain) - 1; depth > r.cfg.MaxChainDepth {
		details["depth"] = depth
		details["max_depth"] = r.cfg.MaxChainDepth
		return "chain_depth", flow.ErrChainTooDeep.
			WithMessage("feedback chain depth %d exceeds %d", depth, r.cfg.MaxChainDepth).
			WithDetails(details)
	}
	return "", nil
}

// walkChain follows routed feedback forward from msg.ToNode along every
// recorded target, depth first, with a visited set per path. It returns the
// first path that repeats a node, or else the longest path found; paths
// start with msg.FromNode and stop after maxChainHops hops.
func walkChain(history feedback.History, msg feedback.Message) ([]string, bool) {
	targets := make(map[string][]string)
	targetsOf := func(id string) []string {
		ts, ok := targets[id]
		if !ok {
			ts = history.TargetsOf(id)
			targets[id] = ts
		}
		return ts
	}

	path := []string{msg.FromNode, msg.ToNode}
	onPath := map[string]bool{msg.FromNode: true, msg.ToNode: true}
	longest := append([]string(nil), path...)
	var cycle []string

	var visit func(hops int) bool
	visit = func(hops int) bool {
		if len(path) > len(longest) {
			longest = append(longest[:0], path...)
		}
		if hops >= maxChainHops {
			return false
		}
		for _, t := range targetsOf(path[len(path)-1]) {
			if onPath[t] {
				cycle = append(append([]string(nil), path...), t)
				return true
			}
			onPath[t] = true
			path = append(path, t)
			found := visit(hops + 1)
			path = path[:len(path)-1]
			delete(onPath, t)
			if found {
				return true
			}
		}
		return false
	}

	if visit(0) {
		return cycle, true
	}
	return longest, false
}

func (r *FeedbackRouter) fixAndVerify(ctx context.Context, ec ExecContext, msg feedback.Message, target, sender *node.Node) (bool, string, error) {
	if ec.Memory != nil {
		payload, err := json.Marshal(fixPayload{
			ID:           msg.ID,
			FromNode:     msg.FromNode,
			Type:         msg.Type,
			Message:      msg.Message,
			SuggestedFix: msg.SuggestedFix,
			Priority:     msg.Priority,
			Round:        msg.Round,
		})
		if err != nil {
			return false, "", fmt.Errorf("encode feedback payload: %w", err)
		}
		if err := ec.Memory.Set(FeedbackMemoryKey(msg.ToNode), string(payload)); err != nil {
			return false, "", fmt.Errorf("write feedback payload: %w", err)
		}
	}

	delivered := msg.WithStatus(feedback.StatusDelivered, "")
	fix, err := r.exec.Execute(ctx, target, ec.WithFeedback(&delivered).feedbackCycle())
	if err != nil {
		return false, "", err
	}
	if !fix.OK() {
		return false, fmt.Sprintf("fix at %s: %s %s", target.ID, fix.Status, fix.Detail), nil
	}

	verify, err := r.exec.Execute(ctx, sender, ec.WithFeedback(nil).feedbackCycle())
	if err != nil {
		return false, "", err
	}
	if !verify.OK() {
		return false, fmt.Sprintf("verify at %s: %s %s", sender.ID, verify.Status, verify.Detail), nil
	}
	return true, "", nil
}

type fixPayload struct {
	ID           string            `json:"id"`
	FromNode     string            `json:"from_node"`
	Type         feedback.Type     `json:"feedback_type"`
	Message      string            `json:"message"`
	SuggestedFix string            `json:"suggested_fix,omitempty"`
	Priority     feedback.Priority `json:"priority"`
	Round        int               `json:"round"`
}

// refuse records a message rejected by a loop-prevention check. Refused
// records carry round 0 so they never count as a routed round.
func (r *FeedbackRouter) refuse(ctx context.Context, ec ExecContext, msg feedback.Message, check string, refusal error) error {
	app.GetLogger().Warn("feedback %s %s refused by %s check: %v", msg.ID, msg.Pair(), check, refusal)
	msg.Round = 0
	rec := msg.WithStatus(feedback.StatusFailed, flow.CodeOf(refusal))
	if err := r.queue.Append(ctx, rec); err != nil {
		return fmt.Errorf("record refused feedback %s: %w", msg.ID, err)
	}
	payload := messagePayload(rec)
	payload["check"] = check
	payload["error"] = refusal.Error()
	if err := r.rec.record(ctx, ec, msg.FromNode, event.TypeFeedbackFailed, payload); err != nil {
		return err
	}
	return refusal
}

// fail records a terminal failure of a queued message and returns cause
func (r *FeedbackRouter) fail(ctx context.Context, ec ExecContext, msg feedback.Message, cause error) error {
	app.GetLogger().Warn("feedback %s %s failed in round %d: %v", msg.ID, msg.Pair(), msg.Round, cause)
	reason := flow.CodeOf(cause)
	if reason == "" {
		reason = cause.Error()
	}
	if err := r.transition(ctx, ec, msg, feedback.StatusFailed, reason); err != nil {
		return err
	}
	return cause
}

// transition appends the message in status s and the matching event
func (r *FeedbackRouter) transition(ctx context.Context, ec ExecContext, msg feedback.Message, s feedback.Status, reason string) error {
	rec := msg.WithStatus(s, reason)
	if err := r.queue.Append(ctx, rec); err != nil {
		return fmt.Errorf("record feedback %s as %s: %w", msg.ID, s, err)
	}
	return r.rec.record(ctx, ec, msg.FromNode, eventFor(s), messagePayload(rec))
}

func eventFor(s feedback.Status) event.Type {
	switch s {
	case feedback.StatusQueued:
		return event.TypeFeedbackQueued
	case feedback.StatusDelivered:
		return event.TypeFeedbackDelivered
	case feedback.StatusResolved:
		return event.TypeFeedbackResolved
	default:
		return event.TypeFeedbackFailed
	}
}

func messagePayload(m feedback.Message) map[string]interface{} {
	return map[string]interface{}{
		"message_id":    m.ID,
		"from_node":     m.FromNode,
		"to_node":       m.ToNode,
		"feedback_type": string(m.Type),
		"round":         m.Round,
		"reason":        m.Reason,
	}
}
