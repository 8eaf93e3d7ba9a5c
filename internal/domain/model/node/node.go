package node

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind is the closed set of node variants
type Kind string

const (
	KindAction      Kind = "ACTION"
	KindSequence    Kind = "SEQUENCE"
	KindLoop        Kind = "LOOP"
	KindConditional Kind = "CONDITIONAL"
)

// String returns the string representation
func (k Kind) String() string {
	return string(k)
}

// IsValid validates the kind
func (k Kind) IsValid() bool {
	switch k {
	case KindAction, KindSequence, KindLoop, KindConditional:
		return true
	default:
		return false
	}
}

// ExitOn selects when a loop stops successfully
type ExitOn string

const (
	ExitOnConditionTrue  ExitOn = "condition_true"
	ExitOnConditionFalse ExitOn = "condition_false"
	ExitOnManualBreak    ExitOn = "manual_break"
)

// IsValid validates the exit mode
func (e ExitOn) IsValid() bool {
	switch e {
	case ExitOnConditionTrue, ExitOnConditionFalse, ExitOnManualBreak:
		return true
	default:
		return false
	}
}

// DefaultLoopTimeoutSeconds bounds loops that do not declare a timeout
const DefaultLoopTimeoutSeconds = 600

// LoopSpec holds LOOP-specific settings
type LoopSpec struct {
	MaxIterations  int    `yaml:"max_iterations" json:"max_iterations"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	ExitOn         ExitOn `yaml:"exit_on" json:"exit_on"`
}

// EffectiveTimeoutSeconds returns the configured timeout or the default ceiling
func (l LoopSpec) EffectiveTimeoutSeconds() int {
	if l.TimeoutSeconds <= 0 {
		return DefaultLoopTimeoutSeconds
	}
	return l.TimeoutSeconds
}

// ConditionalSpec holds the two branches of a CONDITIONAL node
type ConditionalSpec struct {
	TrueBranch  *Node `yaml:"true_branch" json:"true_branch"`
	FalseBranch *Node `yaml:"false_branch,omitempty" json:"false_branch,omitempty"`
}

// FeedbackTemplate describes the feedback an action emits when it fails
type FeedbackTemplate struct {
	ToNode       string `yaml:"to" json:"to"`
	Type         string `yaml:"type" json:"type"`
	Message      string `yaml:"message" json:"message"`
	SuggestedFix string `yaml:"suggested_fix,omitempty" json:"suggested_fix,omitempty"`
	Priority     string `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// ActionSpec holds the settings consumed by command-backed executors
type ActionSpec struct {
	Command        string            `yaml:"command,omitempty" json:"command,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Set            map[string]string `yaml:"set,omitempty" json:"set,omitempty"`
	Feedback       *FeedbackTemplate `yaml:"feedback,omitempty" json:"feedback,omitempty"`
}

// Node is a typed unit of work in the static workflow tree.
// The tree is immutable once validated; parents own their children.
type Node struct {
	ID          string           `yaml:"id" json:"id"`
	Kind        Kind             `yaml:"kind" json:"kind"`
	Children    []*Node          `yaml:"children,omitempty" json:"children,omitempty"`
	Condition   *Descriptor      `yaml:"condition,omitempty" json:"condition,omitempty"`
	Loop        *LoopSpec        `yaml:"loop,omitempty" json:"loop,omitempty"`
	Conditional *ConditionalSpec `yaml:"conditional,omitempty" json:"conditional,omitempty"`
	Action      *ActionSpec      `yaml:"action,omitempty" json:"action,omitempty"`
}

// NewAction builds an ACTION node
func NewAction(id string) *Node {
	return &Node{ID: id, Kind: KindAction}
}

// NewSequence builds a SEQUENCE node
func NewSequence(id string, children ...*Node) *Node {
	return &Node{ID: id, Kind: KindSequence, Children: children}
}

// NewLoop builds a LOOP node
func NewLoop(id string, cond *Descriptor, spec LoopSpec, children ...*Node) *Node {
	return &Node{ID: id, Kind: KindLoop, Condition: cond, Loop: &spec, Children: children}
}

// NewConditional builds a CONDITIONAL node; falseBranch may be nil
func NewConditional(id string, cond *Descriptor, trueBranch, falseBranch *Node) *Node {
	return &Node{
		ID:          id,
		Kind:        KindConditional,
		Condition:   cond,
		Conditional: &ConditionalSpec{TrueBranch: trueBranch, FalseBranch: falseBranch},
	}
}

// Edges returns the nodes directly owned by n: children first, then branches
func (n *Node) Edges() []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children)+2)
	out = append(out, n.Children...)
	if n.Conditional != nil {
		if n.Conditional.TrueBranch != nil {
			out = append(out, n.Conditional.TrueBranch)
		}
		if n.Conditional.FalseBranch != nil {
			out = append(out, n.Conditional.FalseBranch)
		}
	}
	return out
}

// Walk visits n and its descendants depth-first; returning false stops the walk
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Edges() {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// String returns a short description for logs
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", n.Kind, n.ID)
}

// NormalizeID canonicalises node ids and memory keys (NFKC, trimmed)
func NormalizeID(id string) string {
	return strings.TrimSpace(norm.NFKC.String(id))
}

// EffectiveExitOn defaults an empty exit mode to condition_true
func (l LoopSpec) EffectiveExitOn() ExitOn {
	if l.ExitOn == "" {
		return ExitOnConditionTrue
	}
	return l.ExitOn
}
