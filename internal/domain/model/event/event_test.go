package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StampsIDAndUTC(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	e := New(time.Date(2026, 3, 1, 9, 0, 0, 0, loc), "run-1", "loop", TypeLoopStart, map[string]interface{}{"max_iterations": 3})

	require.NoError(t, e.Validate())
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, 3, e.Int("max_iterations"))
}

func TestEvent_PayloadAccessorsAfterJSONRoundTrip(t *testing.T) {
	e := New(time.Now(), "", "loop", TypeLoopIteration, map[string]interface{}{
		"iteration":     2,
		"condition_met": true,
		"reason":        "ok",
	})
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, 2, decoded.Int("iteration"))
	assert.True(t, decoded.Bool("condition_met"))
	assert.Equal(t, "ok", decoded.Text("reason"))
	assert.Equal(t, 0, decoded.Int("missing"))
}

func TestEvent_ValidateRejectsUnknownType(t *testing.T) {
	e := Event{ID: "x", NodeID: "n", Type: "loop_paused"}
	assert.Error(t, e.Validate())
}

func TestFilter(t *testing.T) {
	events := []Event{
		{NodeID: "a", Type: TypeNodeStart},
		{NodeID: "b", Type: TypeNodeStart},
		{NodeID: "a", Type: TypeNodeComplete},
	}
	assert.Len(t, Filter(events, ForNode("a")), 2)
	assert.Len(t, Filter(events, OfType(TypeNodeStart)), 2)
	assert.True(t, TypeFeedbackFailed.IsFeedback())
	assert.False(t, TypeLoopStart.IsFeedback())
}
