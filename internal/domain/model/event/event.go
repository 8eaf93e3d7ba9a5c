package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of control-flow event
type Type string

const (
	TypeNodeStart         Type = "node_start"
	TypeNodeComplete      Type = "node_complete"
	TypeLoopStart         Type = "loop_start"
	TypeLoopIteration     Type = "loop_iteration"
	TypeLoopComplete      Type = "loop_complete"
	TypeLoopTimeout       Type = "loop_timeout"
	TypeLoopMaxIterations Type = "loop_max_iterations"
	TypeConditionalEval   Type = "conditional_eval"
	TypeFeedbackQueued    Type = "feedback_queued"
	TypeFeedbackDelivered Type = "feedback_delivered"
	TypeFeedbackResolved  Type = "feedback_resolved"
	TypeFeedbackFailed    Type = "feedback_failed"
)

// IsValid validates the event type
func (t Type) IsValid() bool {
	switch t {
	case TypeNodeStart, TypeNodeComplete,
		TypeLoopStart, TypeLoopIteration, TypeLoopComplete, TypeLoopTimeout, TypeLoopMaxIterations,
		TypeConditionalEval,
		TypeFeedbackQueued, TypeFeedbackDelivered, TypeFeedbackResolved, TypeFeedbackFailed:
		return true
	default:
		return false
	}
}

// IsFeedback reports whether the event belongs to the feedback lifecycle
func (t Type) IsFeedback() bool {
	switch t {
	case TypeFeedbackQueued, TypeFeedbackDelivered, TypeFeedbackResolved, TypeFeedbackFailed:
		return true
	default:
		return false
	}
}

// Event is an immutable state log record
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"ts"`
	RunID     string                 `json:"run_id,omitempty"`
	NodeID    string                 `json:"node_id"`
	Type      Type                   `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// New creates an event stamped with a fresh id
func New(now time.Time, runID, nodeID string, typ Type, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: now.UTC(),
		RunID:     runID,
		NodeID:    nodeID,
		Type:      typ,
		Payload:   payload,
	}
}

// Validate checks the fields every record must carry
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: id is empty")
	}
	if e.NodeID == "" {
		return fmt.Errorf("event %s: node_id is empty", e.ID)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("event %s: unknown event_type %q", e.ID, e.Type)
	}
	return nil
}

// Int reads a numeric payload field; JSON-decoded numbers arrive as float64
func (e Event) Int(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool reads a boolean payload field
func (e Event) Bool(key string) bool {
	v, _ := e.Payload[key].(bool)
	return v
}

// Text reads a string payload field
func (e Event) Text(key string) string {
	v, _ := e.Payload[key].(string)
	return v
}

// Filter returns the events matching pred, preserving log order
func Filter(events []Event, pred func(Event) bool) []Event {
	var out []Event
	for _, e := range events {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// ForNode selects events of one node
func ForNode(nodeID string) func(Event) bool {
	return func(e Event) bool { return e.NodeID == nodeID }
}

// OfType selects events of one type
func OfType(t Type) func(Event) bool {
	return func(e Event) bool { return e.Type == t }
}
