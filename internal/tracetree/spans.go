package tracetree

import (
	"sort"

	"traceview/internal/models"
)

const (
	// siblingAutogroupMin is the shortest run of look-alike siblings that is grouped.
	siblingAutogroupMin = 5
	// parentAutogroupMin is the shortest same-op chain that is grouped.
	parentAutogroupMin = 2
	// missingInstrumentationGap is the gap, in seconds, between sibling spans
	// above which a missing instrumentation row is inserted.
	missingInstrumentationGap = 0.1
)

// FromSpans projects spans, linked by parent_span_id, under parent as its
// span children. Depths are recomputed from parent's depth. Spans whose
// parent is not in the payload are attached directly under parent.
func FromSpans(parent *Node, spans []models.RawSpan) *Node {
	projectSpans(parent, spans)
	return parent
}

// projectSpans does the work of FromSpans and reports how many spans
// referenced a parent that was not in the payload.
func projectSpans(parent *Node, spans []models.RawSpan) (orphans int) {
	source := linkSource(parent)

	sorted := make([]models.RawSpan, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTimestamp < sorted[j].StartTimestamp
	})

	links := make(map[string]*Node)
	rootSpanID := ""
	if source != nil {
		if txn, ok := source.value.(*Transaction); ok {
			rootSpanID = txn.SpanID
		}
		for _, c := range source.children {
			txn, ok := c.value.(*Transaction)
			if !ok || txn.ParentSpanID == nil || *txn.ParentSpanID == "" {
				continue
			}
			links[*txn.ParentSpanID] = c
		}
	}

	// Fill the lookup table before resolving any parent so that a span may
	// name a parent that appears later in the payload.
	nodes := make([]*Node, len(sorted))
	lookup := make(map[string]*Node, len(sorted))
	for i := range sorted {
		node := newNode(nil, &Span{RawSpan: sorted[i]}, Metadata{}, parent.gen)
		if mount, ok := links[sorted[i].SpanID]; ok {
			node.canFetch = true
			node.metadata = mount.metadata
			node.mount = mount
		}
		nodes[i] = node
		if _, dup := lookup[sorted[i].SpanID]; !dup {
			lookup[sorted[i].SpanID] = node
		}
	}

	var roots []*Node
	for i, node := range nodes {
		pid := sorted[i].ParentSpanID
		if p, ok := lookup[pid]; ok && pid != "" && !isAncestorOrSelf(node, p) {
			node.parent = p
			p.children = append(p.children, node)
			continue
		}
		if pid != "" && pid != rootSpanID {
			orphans++
		}
		roots = append(roots, node)
	}

	if source != nil {
		if txn, ok := source.value.(*Transaction); ok {
			for _, e := range txn.Errors {
				node := newNode(nil, &TraceError{TraceError: e}, Metadata{EventID: e.EventID, ProjectSlug: e.ProjectSlug}, parent.gen)
				if target, ok := lookup[e.Span]; ok && e.Span != "" {
					node.parent = target
					target.children = append(target.children, node)
					continue
				}
				roots = append(roots, node)
			}
		}
	}

	if len(roots) == 0 {
		roots = append(roots, newNode(nil, &NoData{}, Metadata{}, parent.gen))
	}

	parent.SetSpanChildren(roots)

	autogroupParents(parent)
	autogroupSiblings(parent)
	insertMissingInstrumentation(parent)

	for _, c := range parent.spanChildren {
		c.depth = parent.depth + 1
		updateTreeDepths(c)
	}
	return orphans
}

// linkSource is the trace-level transaction whose child transactions may be
// mounted under the spans being projected.
func linkSource(n *Node) *Node {
	if _, ok := n.value.(*Transaction); ok {
		return n
	}
	return n.mount
}

// isAncestorOrSelf reports whether node is p or one of p's ancestors, which
// would make attaching node under p a cycle.
func isAncestorOrSelf(node, p *Node) bool {
	for a := p; a != nil; a = a.parent {
		if a == node {
			return true
		}
	}
	return false
}

// slotOf returns the child slice the projection passes rewrite for owner.
func slotOf(owner, root *Node) *[]*Node {
	if owner == root {
		return &owner.spanChildren
	}
	return &owner.children
}

// next returns the nodes whose child slices a pass should visit after owner's.
func next(slot []*Node) []*Node {
	out := make([]*Node, 0, len(slot))
	for _, c := range slot {
		if g, ok := c.value.(*ParentAutogroup); ok {
			out = append(out, g.Tail)
			continue
		}
		out = append(out, c)
	}
	return out
}

func autogroupParents(root *Node) {
	stack := []*Node{root}
	for len(stack) > 0 {
		owner := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		slot := slotOf(owner, root)
		for i, head := range *slot {
			span, ok := head.value.(*Span)
			if !ok || span.Op == "" {
				continue
			}
			tail, count := head, 1
			for len(tail.children) == 1 {
				child, ok := tail.children[0].value.(*Span)
				if !ok || child.Op != span.Op {
					break
				}
				tail = tail.children[0]
				count++
			}
			if count < parentAutogroupMin {
				continue
			}

			group := newNode(owner, &ParentAutogroup{Op: span.Op, Head: head, Tail: tail, Count: count}, Metadata{}, root.gen)
			// Expanding the group reveals the whole chain down to the tail's children.
			for n := head; ; n = n.children[0] {
				n.expanded = true
				if n == tail {
					break
				}
			}
			head.parent = group
			tail.tailOf = group
			(*slot)[i] = group
		}
		stack = append(stack, next(*slot)...)
	}
}

func autogroupSiblings(root *Node) {
	stack := []*Node{root}
	for len(stack) > 0 {
		owner := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		slot := slotOf(owner, root)
		siblings := *slot
		grouped := make([]*Node, 0, len(siblings))
		for i := 0; i < len(siblings); {
			j := i + 1
			if first, ok := siblings[i].value.(*Span); ok {
				for j < len(siblings) && sameGroup(first, siblings[j]) {
					j++
				}
			}
			if j-i < siblingAutogroupMin {
				grouped = append(grouped, siblings[i:j]...)
				i = j
				continue
			}

			first := siblings[i].value.(*Span)
			group := newNode(owner, &SiblingAutogroup{Op: first.Op, Description: first.Description, Count: j - i}, Metadata{}, root.gen)
			for _, c := range siblings[i:j] {
				c.parent = group
				group.children = append(group.children, c)
			}
			grouped = append(grouped, group)
			i = j
		}
		*slot = grouped
		// A group's members are already grouped; only their subtrees are left.
		for _, c := range next(grouped) {
			if _, ok := c.value.(*SiblingAutogroup); ok {
				stack = append(stack, next(c.children)...)
				continue
			}
			stack = append(stack, c)
		}
	}
}

func sameGroup(first *Span, n *Node) bool {
	s, ok := n.value.(*Span)
	return ok && s.Op == first.Op && s.Description == first.Description
}

func insertMissingInstrumentation(root *Node) {
	stack := []*Node{root}
	for len(stack) > 0 {
		owner := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		slot := slotOf(owner, root)
		siblings := *slot
		out := make([]*Node, 0, len(siblings))
		for i, c := range siblings {
			if i > 0 {
				prev, okPrev := siblings[i-1].value.(*Span)
				cur, okCur := c.value.(*Span)
				if okPrev && okCur && cur.StartTimestamp-prev.Timestamp > missingInstrumentationGap {
					gap := newNode(owner, &MissingInstrumentation{Start: prev.Timestamp, End: cur.StartTimestamp}, Metadata{}, root.gen)
					out = append(out, gap)
				}
			}
			out = append(out, c)
		}
		*slot = out
		stack = append(stack, next(siblings)...)
	}
}
