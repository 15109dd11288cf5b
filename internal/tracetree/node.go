// Package tracetree models a distributed trace as an expandable, lazily fetched
// tree and keeps a flat list of the rows currently visible to a renderer.
package tracetree

import (
	"fmt"
	"sync/atomic"
)

// Metadata identifies the transaction event a node can fetch spans for.
type Metadata struct {
	EventID     string `json:"event_id,omitempty"`
	ProjectSlug string `json:"project_slug,omitempty"`
}

// generation is bumped on every structural mutation of a tree. Cached
// connectors are valid only for the generation they were computed in.
type generation struct {
	n atomic.Uint64
}

func (g *generation) load() uint64 {
	if g == nil {
		return 0
	}
	return g.n.Load()
}

func (g *generation) bump() {
	if g != nil {
		g.n.Add(1)
	}
}

// Node is one element of the trace tree. Ownership flows from the root down
// through children; the parent pointer is a back-reference only.
type Node struct {
	value        Value
	parent       *Node
	children     []*Node
	spanChildren []*Node

	depth    int
	expanded bool
	zoomedIn bool
	canFetch bool
	fetched  bool
	metadata Metadata

	// mount is the trace-level transaction a span node is the parent of.
	mount *Node
	// tailOf is the parent autogroup whose chain ends at this node.
	tailOf *Node

	gen           *generation
	connectors    []int
	connectorsGen uint64
	connectorsOK  bool
}

func newNode(parent *Node, value Value, metadata Metadata, gen *generation) *Node {
	return &Node{
		value:    value,
		parent:   parent,
		metadata: metadata,
		gen:      gen,
	}
}

// Value returns the variant this node represents.
func (n *Node) Value() Value { return n.value }

// Kind is shorthand for Value().Kind().
func (n *Node) Kind() Kind { return n.value.Kind() }

// Parent returns the structural parent, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Depth returns the nesting depth; the root is at depth 0.
func (n *Node) Depth() int { return n.depth }

// Expanded reports whether the node's children are shown.
func (n *Node) Expanded() bool { return n.expanded }

// ZoomedIn reports whether the node shows its fetched spans.
func (n *Node) ZoomedIn() bool { return n.zoomedIn }

// CanFetchData reports whether the node has a transaction event to zoom into.
func (n *Node) CanFetchData() bool { return n.canFetch }

// Metadata identifies the event behind the node.
func (n *Node) Metadata() Metadata { return n.metadata }

// Children returns the children currently in effect. Fetchable nodes expose
// their fetched span children while zoomed in and their static children
// otherwise; a parent autogroup exposes its head when expanded and its
// tail's children when collapsed.
func (n *Node) Children() []*Node {
	if g, ok := n.value.(*ParentAutogroup); ok {
		if n.expanded {
			return []*Node{g.Head}
		}
		return g.Tail.Children()
	}
	if n.zoomedIn {
		return n.spanChildren
	}
	return n.children
}

// SetSpanChildren replaces the fetched span children and adopts them.
func (n *Node) SetSpanChildren(children []*Node) {
	n.spanChildren = children
	for _, c := range children {
		c.parent = n
	}
	n.fetched = true
	n.gen.bump()
}

// descends reports whether the rows under n are part of the flat list when
// n itself is. A parent autogroup always shows something: its tail's
// children when collapsed, the chain when expanded.
func (n *Node) descends() bool {
	if n.expanded {
		return true
	}
	_, ok := n.value.(*ParentAutogroup)
	return ok
}

// VisibleChildrenCount counts the descendants that would be listed under n.
// It walks with an explicit stack so very deep traces cannot overflow.
func (n *Node) VisibleChildrenCount() int {
	if !n.descends() {
		return 0
	}
	children := n.Children()
	stack := make([]*Node, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, children[i])
	}

	count := 0
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		if node.descends() {
			cs := node.Children()
			for i := len(cs) - 1; i >= 0; i-- {
				stack = append(stack, cs[i])
			}
		}
	}
	return count
}

// VisibleChildren returns the descendants listed under n, depth-first and
// pre-order, siblings in their original order.
func (n *Node) VisibleChildren() []*Node {
	if !n.descends() {
		return nil
	}
	children := n.Children()
	stack := make([]*Node, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, children[i])
	}

	var out []*Node
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, node)
		if node.descends() {
			cs := node.Children()
			for i := len(cs) - 1; i >= 0; i-- {
				stack = append(stack, cs[i])
			}
		}
	}
	return out
}

// displayParent is the node n is drawn under. It differs from the structural
// parent only for the children of a collapsed parent autogroup's tail.
func (n *Node) displayParent() *Node {
	p := n.parent
	if p != nil && p.tailOf != nil && !p.tailOf.expanded {
		return p.tailOf
	}
	return p
}

// IsLastChild reports whether n is the last child of the node it is drawn under.
func (n *Node) IsLastChild() bool {
	p := n.displayParent()
	if p == nil {
		return true
	}
	cs := p.Children()
	return len(cs) > 0 && cs[len(cs)-1] == n
}

// IsOrphan reports whether n hangs directly off the synthetic root.
func (n *Node) IsOrphan() bool {
	p := n.displayParent()
	return p != nil && p.Kind() == KindRoot
}

// Connectors returns one marker per ancestor level that still needs a
// vertical guide line at n's row: the ancestor's depth, negated when the
// ancestor hangs off the root. The result is cached until the tree changes.
func (n *Node) Connectors() []int {
	current := n.gen.load()
	if n.connectorsOK && n.connectorsGen == current && n.gen != nil {
		return n.connectors
	}

	connectors := []int{}
	for a := n.displayParent(); a != nil; a = a.displayParent() {
		if a.Kind() == KindRoot {
			break
		}
		if a.IsLastChild() {
			continue
		}
		if a.IsOrphan() {
			connectors = append(connectors, -a.depth)
		} else {
			connectors = append(connectors, a.depth)
		}
	}

	n.connectors = connectors
	n.connectorsGen = current
	n.connectorsOK = true
	return connectors
}

// Path is a stable, readable identity for the node.
func (n *Node) Path() string {
	switch v := n.value.(type) {
	case *Root:
		return "root"
	case *Transaction:
		return "txn-" + v.EventID
	case *Span:
		return "span-" + v.SpanID
	case *TraceError:
		return "error-" + v.EventID
	case *ParentAutogroup:
		return "ag-" + v.Head.Path()
	case *SiblingAutogroup:
		if len(n.children) > 0 {
			return "sag-" + n.children[0].Path()
		}
		return "sag"
	case *MissingInstrumentation:
		return fmt.Sprintf("ms-%.6f", v.Start)
	case *NoData:
		if n.parent != nil {
			return "empty-" + n.parent.Path()
		}
		return "empty"
	}
	return "unknown"
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s depth=%d)", n.Kind(), n.Path(), n.depth)
}

// updateTreeDepths recomputes depths below n from n's own depth, following
// the children currently in effect.
func updateTreeDepths(n *Node) {
	stack := []*Node{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range node.Children() {
			c.depth = node.depth + 1
			stack = append(stack, c)
		}
	}
	n.gen.bump()
}
