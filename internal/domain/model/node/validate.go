package node

import (
	"strings"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
)

// Validate checks the whole tree rooted at root. It never mutates the tree.
func Validate(root *Node) error {
	if root == nil {
		return flow.ErrInvalidNode.WithMessage("workflow has no root node")
	}
	seen := make(map[string]struct{})
	var firstErr error
	root.Walk(func(n *Node) bool {
		if _, dup := seen[n.ID]; dup {
			firstErr = invalidNode(n, "duplicate node id")
			return false
		}
		seen[n.ID] = struct{}{}
		if err := validateNode(n); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

func validateNode(n *Node) error {
	if strings.TrimSpace(n.ID) == "" {
		return flow.ErrInvalidNode.WithMessage("node id is required")
	}
	if !n.Kind.IsValid() {
		return invalidNode(n, "unknown node kind %q", n.Kind)
	}
	for _, c := range n.Children {
		if c == nil {
			return invalidNode(n, "nil child")
		}
	}

	switch n.Kind {
	case KindAction:
		if len(n.Children) > 0 {
			return invalidNode(n, "ACTION nodes cannot have children")
		}
	case KindSequence:
		// any number of children
	case KindLoop:
		if n.Loop == nil {
			return invalidNode(n, "LOOP requires loop settings")
		}
		if n.Loop.MaxIterations <= 0 {
			return invalidNode(n, "LOOP max_iterations must be > 0, got %d", n.Loop.MaxIterations)
		}
		if n.Loop.TimeoutSeconds < 0 {
			return invalidNode(n, "LOOP timeout_seconds must not be negative")
		}
		if !n.Loop.EffectiveExitOn().IsValid() {
			return invalidNode(n, "unknown exit_on %q", n.Loop.ExitOn)
		}
		if n.Condition == nil && n.Loop.EffectiveExitOn() != ExitOnManualBreak {
			return invalidNode(n, "LOOP with exit_on %s requires a condition", n.Loop.EffectiveExitOn())
		}
		if len(n.Children) == 0 {
			return invalidNode(n, "LOOP requires at least one child")
		}
	case KindConditional:
		if n.Condition == nil {
			return invalidNode(n, "CONDITIONAL requires a condition")
		}
		if n.Conditional == nil || n.Conditional.TrueBranch == nil {
			return invalidNode(n, "CONDITIONAL requires true_branch")
		}
		if len(n.Children) > 0 {
			return invalidNode(n, "CONDITIONAL uses branches, not children")
		}
	default:
		return invalidNode(n, "unknown node kind %q", n.Kind)
	}

	if n.Condition != nil {
		if err := ValidateDescriptor(*n.Condition); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDescriptor checks the static shape of a condition
func ValidateDescriptor(d Descriptor) error {
	details := map[string]interface{}{"condition": d.String()}
	if !d.Type.IsValid() {
		return flow.ErrInvalidCondition.WithMessage("unknown condition type %q", d.Type).WithDetails(details)
	}
	if strings.TrimSpace(d.Key) == "" {
		return flow.ErrInvalidCondition.WithMessage("condition key is required").WithDetails(details)
	}
	if !d.EffectiveOperator().IsValid() {
		return flow.ErrInvalidCondition.WithMessage("unknown operator %q", d.Operator).WithDetails(details)
	}
	return nil
}

func invalidNode(n *Node, format string, args ...interface{}) error {
	return flow.ErrInvalidNode.WithMessage(format, args...).WithDetails(map[string]interface{}{
		"node_id": n.ID,
		"kind":    string(n.Kind),
	})
}
