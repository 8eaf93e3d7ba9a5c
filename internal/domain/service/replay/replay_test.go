package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
)

func loopRun() []event.Event {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(node string, typ event.Type, payload map[string]interface{}) event.Event {
		now = now.Add(time.Second)
		return event.New(now, "run-1", node, typ, payload)
	}
	return []event.Event{
		mk("root", event.TypeNodeStart, nil),
		mk("loop", event.TypeNodeStart, nil),
		mk("loop", event.TypeLoopStart, map[string]interface{}{"max_iterations": 3}),
		mk("loop", event.TypeLoopIteration, map[string]interface{}{"iteration": 1, "condition_met": false}),
		mk("loop", event.TypeLoopIteration, map[string]interface{}{"iteration": 2, "condition_met": true}),
		mk("loop", event.TypeLoopComplete, map[string]interface{}{"iteration": 2}),
		mk("loop", event.TypeNodeComplete, map[string]interface{}{"status": "success"}),
		mk("gate", event.TypeConditionalEval, map[string]interface{}{"result": false, "branch": "false"}),
		mk("test", event.TypeFeedbackQueued, map[string]interface{}{"message_id": "FB-1", "from_node": "test", "to_node": "loop", "round": 1}),
		mk("test", event.TypeFeedbackResolved, map[string]interface{}{"message_id": "FB-1", "from_node": "test", "to_node": "loop", "round": 1}),
	}
}

func TestBuild_DerivesLatestState(t *testing.T) {
	s := Build(loopRun(), nil)

	loop := s.Loops["loop"]
	assert.Equal(t, LoopCompleted, loop.State)
	assert.Equal(t, 2, loop.Iteration)
	assert.Equal(t, 3, loop.MaxIterations)
	assert.True(t, loop.LastConditionMet)

	assert.Equal(t, NodeView{Status: "success"}, s.Nodes["loop"])
	assert.Equal(t, []string{"root"}, s.Unfinished())
	assert.Equal(t, ConditionalView{Result: false, Branch: "false"}, s.Conditionals["gate"])
	assert.Equal(t, feedback.StatusResolved, s.Feedback["FB-1"].Status)
}

func TestBuild_ReplayIsIdempotent(t *testing.T) {
	events := loopRun()
	once := Build(events, nil)

	twice := Build(append(append([]event.Event{}, events...), events...), nil)
	assert.Equal(t, once, twice)

	// Restart mid-log: the first half is applied, then the whole log is read again.
	resumed := New()
	resumed.Apply(events[:5]...)
	resumed.Apply(events...)
	assert.Equal(t, once, resumed)
	assert.Equal(t, len(events), resumed.Applied)
}

func TestBuild_FeedbackHistoryLatestWins(t *testing.T) {
	h := feedback.History{
		{ID: "FB-1", FromNode: "a", ToNode: "b", Round: 1, Status: feedback.StatusQueued},
		{ID: "FB-1", FromNode: "a", ToNode: "b", Round: 1, Status: feedback.StatusDelivered},
		{ID: "FB-1", FromNode: "a", ToNode: "b", Round: 2, Status: feedback.StatusFailed, Reason: "MAX_ROUNDS_EXHAUSTED"},
	}
	s := Build(nil, h)
	require.Contains(t, s.Feedback, "FB-1")
	assert.Equal(t, 2, s.Feedback["FB-1"].Round)
	assert.Equal(t, feedback.StatusFailed, s.Feedback["FB-1"].Status)
	assert.Equal(t, "MAX_ROUNDS_EXHAUSTED", s.Feedback["FB-1"].Reason)
}

func TestApply_LoopTerminalStates(t *testing.T) {
	now := time.Now()
	s := New()
	s.Apply(
		event.New(now, "", "a", event.TypeLoopStart, map[string]interface{}{"max_iterations": 2}),
		event.New(now, "", "a", event.TypeLoopMaxIterations, map[string]interface{}{"iteration": 2}),
		event.New(now, "", "b", event.TypeLoopStart, map[string]interface{}{"max_iterations": 9}),
		event.New(now, "", "b", event.TypeLoopTimeout, map[string]interface{}{"iteration": 4}),
	)
	assert.Equal(t, LoopMaxIterations, s.Loops["a"].State)
	assert.Equal(t, LoopTimedOut, s.Loops["b"].State)
	assert.Equal(t, 4, s.Loops["b"].Iteration)
}

func TestSnapshot_Succeeded(t *testing.T) {
	now := time.Now()
	s := New()
	s.Apply(
		event.New(now, "", "done", event.TypeNodeStart, nil),
		event.New(now, "", "done", event.TypeNodeComplete, map[string]interface{}{"status": "success"}),
		event.New(now, "", "broke", event.TypeNodeStart, nil),
		event.New(now, "", "broke", event.TypeNodeComplete, map[string]interface{}{"status": "failure"}),
		event.New(now, "", "again", event.TypeNodeComplete, map[string]interface{}{"status": "success"}),
		event.New(now, "", "again", event.TypeNodeStart, nil),
	)
	assert.Equal(t, map[string]bool{"done": true}, s.Succeeded())
}
