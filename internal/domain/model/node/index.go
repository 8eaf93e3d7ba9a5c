package node

import (
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
)

// MaxAncestorHops caps every upward walk through the tree
const MaxAncestorHops = 10

// Index is a parent-pointer view of a static tree
type Index struct {
	root   *Node
	byID   map[string]*Node
	parent map[string]string
}

// NewIndex builds an index over a validated tree
func NewIndex(root *Node) (*Index, error) {
	idx := &Index{
		root:   root,
		byID:   make(map[string]*Node),
		parent: make(map[string]string),
	}
	var err error
	var visit func(n *Node, parentID string)
	visit = func(n *Node, parentID string) {
		if err != nil || n == nil {
			return
		}
		if _, dup := idx.byID[n.ID]; dup {
			err = fmt.Errorf("index: duplicate node id %q", n.ID)
			return
		}
		idx.byID[n.ID] = n
		if parentID != "" {
			idx.parent[n.ID] = parentID
		}
		for _, c := range n.Edges() {
			visit(c, n.ID)
		}
	}
	visit(root, "")
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Root returns the indexed root
func (x *Index) Root() *Node {
	return x.root
}

// Find returns the node with the given id
func (x *Index) Find(id string) (*Node, bool) {
	n, ok := x.byID[id]
	return n, ok
}

// Parent returns the parent id of a node
func (x *Index) Parent(id string) (string, bool) {
	p, ok := x.parent[id]
	return p, ok
}

// Ancestors returns the ids above id, nearest first, capped at MaxAncestorHops
func (x *Index) Ancestors(id string) []string {
	var out []string
	seen := map[string]struct{}{id: {}}
	cur := id
	for hops := 0; hops < MaxAncestorHops; hops++ {
		p, ok := x.parent[cur]
		if !ok {
			break
		}
		if _, loop := seen[p]; loop {
			break
		}
		seen[p] = struct{}{}
		out = append(out, p)
		cur = p
	}
	return out
}

// FindAncestor locates target among the ancestors of from
func (x *Index) FindAncestor(from, target string) (*Node, error) {
	details := map[string]interface{}{"from_node": from, "to_node": target}
	if _, ok := x.byID[from]; !ok {
		return nil, flow.ErrTargetNotAncestor.WithMessage("sender %q is not in the workflow", from).WithDetails(details)
	}
	for _, id := range x.Ancestors(from) {
		if id == target {
			return x.byID[id], nil
		}
	}
	return nil, flow.ErrTargetNotAncestor.WithDetails(details)
}
