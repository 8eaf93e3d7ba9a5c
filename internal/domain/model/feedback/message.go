package feedback

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type is the kind of feedback a descendant sends upward
type Type string

const (
	TypeFixRequest        Type = "FIX_REQUEST"
	TypeContextRequest    Type = "CONTEXT_REQUEST"
	TypeDependencyMissing Type = "DEPENDENCY_MISSING"
	TypeArchitectureIssue Type = "ARCHITECTURE_ISSUE"
)

// IsValid validates the feedback type
func (t Type) IsValid() bool {
	switch t {
	case TypeFixRequest, TypeContextRequest, TypeDependencyMissing, TypeArchitectureIssue:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a message
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Priority orders feedback for operators
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid validates the priority
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Message is a backwards request from a node to one of its ancestors.
// Every status change is recorded as a new record; records are never edited.
type Message struct {
	ID           string    `json:"id"`
	FromNode     string    `json:"from_node"`
	ToNode       string    `json:"to_node"`
	Type         Type      `json:"feedback_type"`
	Message      string    `json:"message"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
	Priority     Priority  `json:"priority"`
	Round        int       `json:"round"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Pair identifies the (from, to) relationship rounds are counted on
type Pair struct {
	From string
	To   string
}

// Pair returns the message's node pair
func (m Message) Pair() Pair {
	return Pair{From: m.FromNode, To: m.ToNode}
}

// String renders the pair for logs
func (p Pair) String() string {
	return p.From + "->" + p.To
}

// Validate checks required fields and enums
func (m Message) Validate() error {
	var missing []string
	if strings.TrimSpace(m.FromNode) == "" {
		missing = append(missing, "from_node")
	}
	if strings.TrimSpace(m.ToNode) == "" {
		missing = append(missing, "to_node")
	}
	if m.Type == "" {
		missing = append(missing, "feedback_type")
	}
	if strings.TrimSpace(m.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("unknown feedback type %q", m.Type)
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return fmt.Errorf("unknown priority %q", m.Priority)
	}
	if m.FromNode == m.ToNode {
		return errors.New("feedback cannot target its sender")
	}
	return nil
}

// WithStatus returns a copy in the given status
func (m Message) WithStatus(s Status, reason string) Message {
	m.Status = s
	m.Reason = reason
	return m
}

// NewID generates a sortable message id
func NewID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return "FB-" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
