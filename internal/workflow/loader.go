package workflow

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
)

// Load reads and validates the workflow at path
func Load(fs afero.Fs, path string) (*Workflow, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read: %w", err)
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	wf.Path = path
	return wf, nil
}

// Parse validates a YAML document in four passes: JSON schema, strict decode,
// normalisation with placeholder expansion, then tree semantics.
func Parse(data []byte) (*Workflow, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}

	normalize(wf.Root)
	if err := expandVars(&wf); err != nil {
		return nil, err
	}

	if err := node.Validate(wf.Root); err != nil {
		return nil, err
	}
	idx, err := node.NewIndex(wf.Root)
	if err != nil {
		return nil, flow.ErrInvalidNode.WithMessage("%v", err)
	}
	wf.Index = idx
	if err := validateFeedbackTemplates(idx); err != nil {
		return nil, err
	}
	return &wf, nil
}

// normalize canonicalises node ids, feedback targets and memory keys
func normalize(root *node.Node) {
	root.Walk(func(n *node.Node) bool {
		n.ID = node.NormalizeID(n.ID)
		if c := n.Condition; c != nil && c.Type == node.ConditionMemoryCheck {
			c.Key = node.NormalizeID(c.Key)
		}
		if a := n.Action; a != nil {
			if len(a.Set) > 0 {
				set := make(map[string]string, len(a.Set))
				for k, v := range a.Set {
					set[node.NormalizeID(k)] = v
				}
				a.Set = set
			}
			if a.Feedback != nil {
				a.Feedback.ToNode = node.NormalizeID(a.Feedback.ToNode)
			}
		}
		return true
	})
}

func expandVars(wf *Workflow) error {
	vars := BuildVarMap(wf.Name, wf.Vars)
	allowed := make([]string, 0, len(vars))
	for k := range vars {
		allowed = append(allowed, k)
	}

	var firstErr error
	expand := func(n *node.Node, field string, s *string) {
		if firstErr != nil || *s == "" {
			return
		}
		out, err := Expand(*s, vars, allowed)
		if err != nil {
			firstErr = fmt.Errorf("workflow: node %q %s: %w", n.ID, field, err)
			return
		}
		*s = out
	}
	wf.Root.Walk(func(n *node.Node) bool {
		if a := n.Action; a != nil {
			expand(n, "command", &a.Command)
			if a.Feedback != nil {
				expand(n, "feedback.message", &a.Feedback.Message)
				expand(n, "feedback.suggested_fix", &a.Feedback.SuggestedFix)
			}
		}
		return firstErr == nil
	})
	return firstErr
}

// validateFeedbackTemplates checks each declared feedback target is a strict
// ancestor of the emitting action.
func validateFeedbackTemplates(idx *node.Index) error {
	var firstErr error
	idx.Root().Walk(func(n *node.Node) bool {
		if n.Action == nil || n.Action.Feedback == nil {
			return true
		}
		tpl := n.Action.Feedback
		details := map[string]interface{}{"node_id": n.ID, "to_node": tpl.ToNode}
		switch {
		case n.Kind != node.KindAction:
			firstErr = flow.ErrInvalidNode.WithMessage("only ACTION nodes declare feedback").WithDetails(details)
		case !feedback.Type(tpl.Type).IsValid():
			firstErr = flow.ErrInvalidFeedback.WithMessage("unknown feedback type %q", tpl.Type).WithDetails(details)
		case tpl.Priority != "" && !feedback.Priority(tpl.Priority).IsValid():
			firstErr = flow.ErrInvalidFeedback.WithMessage("unknown priority %q", tpl.Priority).WithDetails(details)
		case strings.TrimSpace(tpl.Message) == "":
			firstErr = flow.ErrInvalidFeedback.WithMessage("feedback message is required").WithDetails(details)
		case !isAncestor(idx, n.ID, tpl.ToNode):
			firstErr = flow.ErrTargetNotAncestor.WithMessage("feedback target %q is not an ancestor of %q", tpl.ToNode, n.ID).WithDetails(details)
		}
		return firstErr == nil
	})
	return firstErr
}

func isAncestor(idx *node.Index, from, target string) bool {
	for _, a := range idx.Ancestors(from) {
		if a == target {
			return true
		}
	}
	return false
}
