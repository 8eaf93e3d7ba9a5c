// Package replay derives current workflow state from the append-only logs.
//
// State is never stored; it is a fold over events where, for every entity,
// the latest matching event wins. Events are deduplicated by id, so folding
// a log that was partially re-read after a restart converges to the same
// snapshot as a single pass.
package replay

import (
	"sort"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
)

// LoopState is the derived state of a loop node
type LoopState string

const (
	LoopRunning       LoopState = "running"
	LoopCompleted     LoopState = "completed"
	LoopMaxIterations LoopState = "max_iterations"
	LoopTimedOut      LoopState = "timed_out"
)

// NodeView is the derived state of any node
type NodeView struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// LoopView is the derived state of a loop
type LoopView struct {
	State            LoopState `json:"state"`
	Iteration        int       `json:"iteration"`
	MaxIterations    int       `json:"max_iterations"`
	LastConditionMet bool      `json:"last_condition_met"`
}

// ConditionalView is the last evaluation of a conditional
type ConditionalView struct {
	Result bool   `json:"result"`
	Branch string `json:"branch"`
}

// FeedbackView is the latest known state of a feedback message
type FeedbackView struct {
	ID       string          `json:"id"`
	FromNode string          `json:"from_node"`
	ToNode   string          `json:"to_node"`
	Round    int             `json:"round"`
	Status   feedback.Status `json:"status"`
	Reason   string          `json:"reason,omitempty"`
}

// Snapshot is the terminal (or current) state reconstructed from logs
type Snapshot struct {
	Nodes        map[string]NodeView        `json:"nodes"`
	Loops        map[string]LoopView        `json:"loops"`
	Conditionals map[string]ConditionalView `json:"conditionals"`
	Feedback     map[string]FeedbackView    `json:"feedback"`
	Applied      int                        `json:"applied"`

	seen map[string]struct{}
}

// New returns an empty snapshot ready for Apply
func New() *Snapshot {
	return &Snapshot{
		Nodes:        make(map[string]NodeView),
		Loops:        make(map[string]LoopView),
		Conditionals: make(map[string]ConditionalView),
		Feedback:     make(map[string]FeedbackView),
		seen:         make(map[string]struct{}),
	}
}

// Build folds a full event log and feedback history into a snapshot
func Build(events []event.Event, history feedback.History) *Snapshot {
	s := New()
	s.Apply(events...)
	s.ApplyFeedback(history)
	return s
}

// Apply folds events in log order; already-applied ids are skipped
func (s *Snapshot) Apply(events ...event.Event) {
	for _, e := range events {
		if e.ID != "" {
			if _, dup := s.seen[e.ID]; dup {
				continue
			}
			s.seen[e.ID] = struct{}{}
		}
		s.apply(e)
		s.Applied++
	}
}

func (s *Snapshot) apply(e event.Event) {
	switch e.Type {
	case event.TypeNodeStart:
		v := s.Nodes[e.NodeID]
		v.Running = true
		s.Nodes[e.NodeID] = v
	case event.TypeNodeComplete:
		s.Nodes[e.NodeID] = NodeView{Status: e.Text("status"), Running: false}

	case event.TypeLoopStart:
		s.Loops[e.NodeID] = LoopView{State: LoopRunning, MaxIterations: e.Int("max_iterations")}
	case event.TypeLoopIteration:
		v := s.Loops[e.NodeID]
		v.State = LoopRunning
		v.Iteration = e.Int("iteration")
		v.LastConditionMet = e.Bool("condition_met")
		s.Loops[e.NodeID] = v
	case event.TypeLoopComplete:
		s.finishLoop(e, LoopCompleted)
	case event.TypeLoopMaxIterations:
		s.finishLoop(e, LoopMaxIterations)
	case event.TypeLoopTimeout:
		s.finishLoop(e, LoopTimedOut)

	case event.TypeConditionalEval:
		s.Conditionals[e.NodeID] = ConditionalView{Result: e.Bool("result"), Branch: e.Text("branch")}

	case event.TypeFeedbackQueued, event.TypeFeedbackDelivered, event.TypeFeedbackResolved, event.TypeFeedbackFailed:
		id := e.Text("message_id")
		if id == "" {
			return
		}
		v := s.Feedback[id]
		v.ID = id
		v.FromNode = e.Text("from_node")
		v.ToNode = e.Text("to_node")
		v.Round = e.Int("round")
		v.Status = statusFor(e.Type)
		v.Reason = e.Text("reason")
		s.Feedback[id] = v
	}
}

func (s *Snapshot) finishLoop(e event.Event, state LoopState) {
	v := s.Loops[e.NodeID]
	v.State = state
	if it := e.Int("iteration"); it > 0 {
		v.Iteration = it
	}
	s.Loops[e.NodeID] = v
}

// ApplyFeedback folds queue records; the latest record per message id wins
func (s *Snapshot) ApplyFeedback(history feedback.History) {
	for _, m := range history.LatestByID() {
		s.Feedback[m.ID] = FeedbackView{
			ID:       m.ID,
			FromNode: m.FromNode,
			ToNode:   m.ToNode,
			Round:    m.Round,
			Status:   m.Status,
			Reason:   m.Reason,
		}
	}
}

func statusFor(t event.Type) feedback.Status {
	switch t {
	case event.TypeFeedbackQueued:
		return feedback.StatusQueued
	case event.TypeFeedbackDelivered:
		return feedback.StatusDelivered
	case event.TypeFeedbackResolved:
		return feedback.StatusResolved
	default:
		return feedback.StatusFailed
	}
}

// Unfinished returns the ids of nodes that started but never completed.
// A resumed run re-enters them.
func (s *Snapshot) Unfinished() []string {
	var out []string
	for id, v := range s.Nodes {
		if v.Running {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Succeeded returns the nodes whose latest completion was a success and
// that have not been started again since. A resumed run skips them.
func (s *Snapshot) Succeeded() map[string]bool {
	out := make(map[string]bool)
	for id, v := range s.Nodes {
		if !v.Running && v.Status == "success" {
			out[id] = true
		}
	}
	return out
}
