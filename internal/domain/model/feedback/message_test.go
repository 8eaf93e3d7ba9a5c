package feedback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() Message {
	return Message{
		FromNode: "test",
		ToNode:   "implement",
		Type:     TypeFixRequest,
		Message:  "unit tests fail on nil input",
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr string
	}{
		{"valid", func(m *Message) {}, ""},
		{"missing from", func(m *Message) { m.FromNode = " " }, "from_node"},
		{"missing to and message", func(m *Message) { m.ToNode = ""; m.Message = "" }, "to_node, message"},
		{"missing type", func(m *Message) { m.Type = "" }, "feedback_type"},
		{"unknown type", func(m *Message) { m.Type = "PLEASE_HELP" }, "unknown feedback type"},
		{"unknown priority", func(m *Message) { m.Priority = "urgent" }, "unknown priority"},
		{"self target", func(m *Message) { m.ToNode = m.FromNode }, "cannot target its sender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewID_IsSortable(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewID(t0)
	b := NewID(t0.Add(time.Second))

	assert.True(t, strings.HasPrefix(a, "FB-"))
	assert.Less(t, a, b)
}

func TestHistory_LatestByIDKeepsFirstSeenOrder(t *testing.T) {
	h := History{
		{ID: "1", Status: StatusQueued},
		{ID: "2", Status: StatusQueued},
		{ID: "1", Status: StatusDelivered},
		{ID: "1", Status: StatusResolved},
	}

	latest := h.LatestByID()
	require.Len(t, latest, 2)
	assert.Equal(t, "1", latest[0].ID)
	assert.Equal(t, StatusResolved, latest[0].Status)
	assert.Equal(t, StatusQueued, latest[1].Status)
}

func TestHistory_LatestRoundIgnoresRefusals(t *testing.T) {
	p := Pair{From: "a", To: "b"}
	h := History{
		{ID: "1", FromNode: "a", ToNode: "b", Round: 1, Status: StatusResolved},
		{ID: "2", FromNode: "a", ToNode: "b", Round: 2, Status: StatusQueued},
		{ID: "3", FromNode: "a", ToNode: "b", Round: 0, Status: StatusFailed},
		{ID: "4", FromNode: "c", ToNode: "b", Round: 5},
	}

	assert.Equal(t, 2, h.LatestRound(p))
	assert.Equal(t, 0, h.LatestRound(Pair{From: "b", To: "a"}))
}

func TestHistory_TargetsOf(t *testing.T) {
	h := History{
		{FromNode: "a", ToNode: "b", Round: 1},
		{FromNode: "a", ToNode: "b", Round: 2},
		{FromNode: "a", ToNode: "c", Round: 1},
		{FromNode: "a", ToNode: "d", Round: 0},
	}
	assert.Equal(t, []string{"b", "c"}, h.TargetsOf("a"))
	assert.Empty(t, h.TargetsOf("b"))
}
